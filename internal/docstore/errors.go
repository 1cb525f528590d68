package docstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrConflict    = errors.New("version conflict")
	ErrInvalidPath = errors.New("invalid path")
	ErrInvalidDSN  = errors.New("invalid store dsn")
)

type ConflictError struct {
	Path            string
	ExpectedVersion string
	CurrentVersion  string
}

func (e *ConflictError) Error() string {
	if e.ExpectedVersion == "" {
		return fmt.Sprintf("version conflict on %s: document already exists", e.Path)
	}
	return fmt.Sprintf("version conflict on %s: expected %s", e.Path, e.ExpectedVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StoreError is any non-success store response that is neither a missing
// document nor a version conflict.
type StoreError struct {
	Op         string
	Path       string
	StatusCode int
	Message    string
}

func (e *StoreError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "unexpected response"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("store %s %s: status %d: %s", e.Op, e.Path, e.StatusCode, msg)
	}
	return fmt.Sprintf("store %s %s: %s", e.Op, e.Path, msg)
}

// PartialDeleteError reports a subtree walk where some files could not be
// removed. Deleted counts the files that were.
type PartialDeleteError struct {
	Path    string
	Deleted int
	Failed  []string
	Err     error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("delete subtree %s: %d deleted, %d failed: %v", e.Path, e.Deleted, len(e.Failed), e.Err)
}

func (e *PartialDeleteError) Unwrap() error {
	return e.Err
}
