package docstore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/mux"
)

const maxContentsBodyBytes = 4 << 20

type ContentsHandlerOptions struct {
	// Prefix is the repository root the API is served under, for example
	// /repos/local/workouts.
	Prefix string
	// Token, when set, must be presented as a bearer token.
	Token  string
	Logger Logger
}

type contentsHandler struct {
	store  Store
	prefix string
	token  string
	logger Logger
}

// NewContentsHandler serves the repository contents API over store, so
// HTTPStore can run against any local backend.
func NewContentsHandler(store Store, opts ContentsHandlerOptions) http.Handler {
	h := &contentsHandler{
		store:  store,
		prefix: strings.TrimRight(strings.TrimSpace(opts.Prefix), "/") + "/contents",
		token:  strings.TrimSpace(opts.Token),
		logger: opts.Logger,
	}
	router := mux.NewRouter().SkipClean(true)
	router.PathPrefix(h.prefix).Methods(http.MethodGet).HandlerFunc(h.handleGet)
	router.PathPrefix(h.prefix).Methods(http.MethodPut).HandlerFunc(h.handlePut)
	router.PathPrefix(h.prefix).Methods(http.MethodDelete).HandlerFunc(h.handleDelete)
	return h.authorize(router)
}

func (h *contentsHandler) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if auth != "Bearer "+h.token && auth != "token "+h.token {
				writeContentsError(w, http.StatusUnauthorized, "Bad credentials")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *contentsHandler) documentPath(r *http.Request) (string, error) {
	return CleanPath(strings.TrimPrefix(r.URL.Path, h.prefix))
}

func (h *contentsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.documentPath(r)
	if err != nil {
		writeContentsError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p != "" {
		doc, err := h.store.Get(r.Context(), p)
		if err == nil {
			writeContentsJSON(w, http.StatusOK, fileItem(doc))
			return
		}
		if !IsNotFound(err) {
			h.writeStoreError(w, "get", p, err)
			return
		}
	}
	entries, err := h.store.List(r.Context(), p)
	if err != nil {
		h.writeStoreError(w, "list", p, err)
		return
	}
	items := make([]contentsItem, 0, len(entries))
	for _, entry := range entries {
		item := contentsItem{Type: "file", Name: entry.Name, Path: entry.Path, SHA: entry.Version}
		if entry.Type == EntryDir {
			item.Type = "dir"
		}
		items = append(items, item)
	}
	writeContentsJSON(w, http.StatusOK, items)
}

func (h *contentsHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	p, err := h.documentPath(r)
	if err != nil || p == "" {
		writeContentsError(w, http.StatusBadRequest, "a file path is required")
		return
	}
	var req contentsWriteRequest
	if !readContentsBody(w, r, &req) {
		return
	}
	content, err := decodeContent(req.Content)
	if err != nil {
		writeContentsError(w, http.StatusBadRequest, "content is not valid base64")
		return
	}
	version, err := h.store.Put(r.Context(), p, content, strings.TrimSpace(req.SHA))
	if err != nil {
		h.writeStoreError(w, "put", p, err)
		return
	}
	status := http.StatusOK
	if strings.TrimSpace(req.SHA) == "" {
		status = http.StatusCreated
	}
	item := fileItem(Document{Path: p, Version: version})
	writeContentsJSON(w, status, contentsWriteResponse{Content: &item})
}

func (h *contentsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, err := h.documentPath(r)
	if err != nil || p == "" {
		writeContentsError(w, http.StatusBadRequest, "a file path is required")
		return
	}
	var req contentsWriteRequest
	if !readContentsBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SHA) == "" {
		writeContentsError(w, http.StatusUnprocessableEntity, `"sha" wasn't supplied`)
		return
	}
	if err := h.store.Delete(r.Context(), p, strings.TrimSpace(req.SHA)); err != nil {
		h.writeStoreError(w, "delete", p, err)
		return
	}
	writeContentsJSON(w, http.StatusOK, map[string]any{"content": nil})
}

func (h *contentsHandler) writeStoreError(w http.ResponseWriter, op, p string, err error) {
	switch {
	case IsNotFound(err):
		writeContentsError(w, http.StatusNotFound, "Not Found")
	case errors.Is(err, ErrConflict):
		writeContentsError(w, http.StatusConflict, p+" does not match the expected sha")
	case errors.Is(err, ErrInvalidPath):
		writeContentsError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		if h.logger != nil {
			h.logger.Printf("contents %s %s failed: %v", op, p, err)
		}
		writeContentsError(w, http.StatusInternalServerError, "store failure")
	}
}

func fileItem(doc Document) contentsItem {
	return contentsItem{
		Type:     "file",
		Name:     path.Base(doc.Path),
		Path:     doc.Path,
		SHA:      doc.Version,
		Content:  wrapBase64(base64.StdEncoding.EncodeToString(doc.Content)),
		Encoding: "base64",
	}
}

// wrapBase64 breaks encoded content into 60 character lines the way the
// hosted contents API does.
func wrapBase64(encoded string) string {
	if encoded == "" {
		return ""
	}
	var b strings.Builder
	for len(encoded) > 60 {
		b.WriteString(encoded[:60])
		b.WriteByte('\n')
		encoded = encoded[60:]
	}
	b.WriteString(encoded)
	b.WriteByte('\n')
	return b.String()
}

func readContentsBody(w http.ResponseWriter, r *http.Request, out any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxContentsBodyBytes))
	if err != nil {
		writeContentsError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		writeContentsError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeContentsJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeContentsError(w http.ResponseWriter, status int, message string) {
	writeContentsJSON(w, status, map[string]string{"message": message})
}
