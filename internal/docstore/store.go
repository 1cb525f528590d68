package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// MaxUpdateAttempts bounds UpdateJSON: the first write plus one retry after a
// version conflict.
const MaxUpdateAttempts = 2

type Document struct {
	Path    string
	Content []byte
	Version string
}

type Entry struct {
	Name    string
	Path    string
	Type    EntryType
	Version string
}

// Store is a path-addressed document store with opaque version markers.
//
// Put with an empty expectedVersion creates the document and fails with a
// conflict if it already exists. Delete requires the current version.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	Put(ctx context.Context, path string, content []byte, expectedVersion string) (string, error)
	List(ctx context.Context, path string) ([]Entry, error)
	Delete(ctx context.Context, path, version string) error
}

type Logger interface {
	Printf(format string, args ...any)
}

// CleanPath normalizes a store path: no leading or trailing slash, no dot
// segments.
func CleanPath(raw string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", nil
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, raw)
		}
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

func cleanDocumentPath(raw string) (string, error) {
	cleaned, err := CleanPath(raw)
	if err != nil {
		return "", err
	}
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	return cleaned, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// GetJSON decodes the document at p into out and returns its version.
func GetJSON(ctx context.Context, store Store, p string, out any) (string, error) {
	doc, err := store.Get(ctx, p)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(doc.Content, out); err != nil {
		return "", fmt.Errorf("decode %s: %w", p, err)
	}
	return doc.Version, nil
}

// GetOrDefault returns the decoded document at p, or a fresh fallback and an
// empty version when p does not exist.
func GetOrDefault[T any](ctx context.Context, store Store, p string, fallback func() T) (T, string, error) {
	var value T
	version, err := GetJSON(ctx, store, p, &value)
	if IsNotFound(err) {
		return fallback(), "", nil
	}
	if err != nil {
		var zero T
		return zero, "", err
	}
	return value, version, nil
}

// MarshalDocument renders v the way every document in the store is written:
// two-space indentation and a trailing newline.
func MarshalDocument(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func PutJSON(ctx context.Context, store Store, p string, v any, expectedVersion string) (string, error) {
	data, err := MarshalDocument(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", p, err)
	}
	return store.Put(ctx, p, data, expectedVersion)
}

type UpdateResult struct {
	Version  string
	Written  bool
	Attempts int
}

// UpdateJSON reads the document at p (or fallback when absent), applies
// mutate and writes the result conditionally on the version it read. On a
// version conflict the document is re-read and mutate is applied again to the
// fresh copy, so the local change lands on top of whatever the other writer
// stored. A second conflict is returned to the caller. When mutate reports no
// change nothing is written.
func UpdateJSON[T any](ctx context.Context, store Store, p string, fallback func() T, mutate func(doc *T) (bool, error)) (UpdateResult, error) {
	var result UpdateResult
	for attempt := 1; attempt <= MaxUpdateAttempts; attempt++ {
		result.Attempts = attempt
		doc, version, err := GetOrDefault(ctx, store, p, fallback)
		if err != nil {
			return result, err
		}
		changed, err := mutate(&doc)
		if err != nil {
			return result, err
		}
		if !changed {
			result.Version = version
			return result, nil
		}
		newVersion, err := PutJSON(ctx, store, p, doc, version)
		if err == nil {
			result.Version = newVersion
			result.Written = true
			return result, nil
		}
		if !errors.Is(err, ErrConflict) || attempt == MaxUpdateAttempts {
			return result, err
		}
	}
	return result, nil
}

// PutIfChanged writes content at p unless the stored bytes are already
// identical. It reports whether a write happened.
func PutIfChanged(ctx context.Context, store Store, p string, content []byte) (bool, error) {
	existing, err := store.Get(ctx, p)
	version := ""
	switch {
	case err == nil:
		if bytes.Equal(existing.Content, content) {
			return false, nil
		}
		version = existing.Version
	case IsNotFound(err):
	default:
		return false, err
	}
	if _, err := store.Put(ctx, p, content, version); err != nil {
		return false, err
	}
	return true, nil
}

// DeletePath removes the document at p using its current version. A missing
// document is reported as false with no error.
func DeletePath(ctx context.Context, store Store, p string) (bool, error) {
	doc, err := store.Get(ctx, p)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := store.Delete(ctx, p, doc.Version); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type SubtreeResult struct {
	Deleted int
	// Absent is set when the root of the walk did not exist.
	Absent bool
}

// DeleteSubtree removes every file below root depth-first. Files that vanish
// during the walk count as already gone. Any other failure is collected and
// returned as a *PartialDeleteError after the walk finishes.
func DeleteSubtree(ctx context.Context, store Store, root string) (SubtreeResult, error) {
	var (
		result SubtreeResult
		failed []string
		errs   []error
	)
	var walk func(dir string, top bool) error
	walk = func(dir string, top bool) error {
		entries, err := store.List(ctx, dir)
		if IsNotFound(err) {
			if top {
				result.Absent = true
			}
			return nil
		}
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			switch entry.Type {
			case EntryDir:
				if err := walk(entry.Path, false); err != nil {
					failed = append(failed, entry.Path)
					errs = append(errs, err)
				}
			default:
				err := store.Delete(ctx, entry.Path, entry.Version)
				switch {
				case err == nil:
					result.Deleted++
				case IsNotFound(err):
				default:
					failed = append(failed, entry.Path)
					errs = append(errs, err)
				}
			}
		}
		return nil
	}
	if err := walk(root, true); err != nil {
		if result.Deleted == 0 && len(failed) == 0 {
			return result, err
		}
		failed = append(failed, root)
		errs = append(errs, err)
	}
	if len(failed) > 0 {
		return result, &PartialDeleteError{
			Path:    root,
			Deleted: result.Deleted,
			Failed:  failed,
			Err:     errors.Join(errs...),
		}
	}
	return result, nil
}

// childEntries groups flat document paths into the immediate children of dir.
func childEntries(dir string, docs map[string]string) []Entry {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	seenDirs := map[string]struct{}{}
	entries := make([]Entry, 0)
	for docPath, version := range docs {
		if !strings.HasPrefix(docPath, prefix) {
			continue
		}
		rest := strings.TrimPrefix(docPath, prefix)
		if rest == "" {
			continue
		}
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name := rest[:idx]
			if _, ok := seenDirs[name]; ok {
				continue
			}
			seenDirs[name] = struct{}{}
			entries = append(entries, Entry{Name: name, Path: prefix + name, Type: EntryDir})
			continue
		}
		entries = append(entries, Entry{Name: rest, Path: docPath, Type: EntryFile, Version: version})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}
