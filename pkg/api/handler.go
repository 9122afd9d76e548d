package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/onboarding-crm/pkg/clients"
	"github.com/hazyhaar/onboarding-crm/pkg/crm"
	"github.com/hazyhaar/onboarding-crm/pkg/docs"
	"github.com/hazyhaar/onboarding-crm/pkg/importer"
	"github.com/hazyhaar/onboarding-crm/pkg/kit"
	"github.com/hazyhaar/onboarding-crm/pkg/metrics"
	"github.com/hazyhaar/onboarding-crm/pkg/tabular"
)

// Request headers read by the router.
const (
	ActorHeader     = "X-Actor"
	RequestIDHeader = "X-Request-ID"
)

const (
	maxJSONBody   = 64 << 10
	maxUploadBody = 32 << 20
)

// RouterConfig wires NewRouter. Metrics and Gatherer are optional.
type RouterConfig struct {
	Service  *crm.Service
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter returns an http.Handler with all CRM API routes.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mux := http.NewServeMux()
	h := &handler{
		ep:     NewEndpoints(cfg.Service, cfg.Logger),
		svc:    cfg.Service,
		logger: cfg.Logger,
	}

	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.HandleFunc("GET /v1/catalogs", h.handleCatalogs)
	mux.HandleFunc("POST /v1/catalogs/{id}/entries", h.handleAddCatalogEntries)
	mux.HandleFunc("DELETE /v1/catalogs/{id}/entries", h.handleRemoveCatalogEntry)
	mux.HandleFunc("POST /v1/canonicalize", h.handleCanonicalize)
	mux.HandleFunc("GET /v1/search/{list}", h.handleSearch)
	mux.HandleFunc("GET /v1/advisors/similar", h.handleSimilarAdvisors)

	mux.HandleFunc("GET /v1/clients", h.handleClients)
	mux.HandleFunc("POST /v1/clients", h.handleCreateClient)
	mux.HandleFunc("GET /v1/clients/next-id", h.handleNextID)
	mux.HandleFunc("POST /v1/clients/repair", h.handleRepairIDs)
	mux.HandleFunc("GET /v1/clients/{id}", h.handleClient)
	mux.HandleFunc("PATCH /v1/clients/{id}", h.handleUpdateClient)
	mux.HandleFunc("DELETE /v1/clients/{id}", h.handleDeleteClient)
	mux.HandleFunc("GET /v1/clients/{id}/history", h.handleHistory)
	mux.HandleFunc("GET /v1/history", h.handleHistory)

	mux.HandleFunc("GET /v1/clients/{id}/documents", h.handleListDocuments)
	mux.HandleFunc("POST /v1/clients/{id}/documents/{category}", h.handleUploadDocuments)
	mux.HandleFunc("GET /v1/clients/{id}/documents/{name}", h.handleDownloadDocument)
	mux.HandleFunc("DELETE /v1/clients/{id}/documents/{name}", h.handleRemoveDocument)

	mux.HandleFunc("POST /v1/imports", h.handleImport)
	mux.HandleFunc("GET /v1/imports", h.handleImportRuns)

	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(cfg.Gatherer))
	}

	return cors(requestContext(cfg.Metrics.HTTP(mux)))
}

type handler struct {
	ep     Endpoints
	svc    *crm.Service
	logger *slog.Logger
}

// --- catalogs and search ---

func (h *handler) handleCatalogs(w http.ResponseWriter, r *http.Request) {
	resp, err := h.ep.Catalogs(r.Context(), nil)
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleAddCatalogEntries(w http.ResponseWriter, r *http.Request) {
	req := CatalogEntriesRequest{Catalog: r.PathValue("id")}
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.ep.AddCatalogEntry(r.Context(), &req)
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleRemoveCatalogEntry(w http.ResponseWriter, r *http.Request) {
	resp, err := h.ep.RemoveCatalogEntry(r.Context(), &CatalogEntryRemoveRequest{
		Catalog: r.PathValue("id"),
		Value:   r.URL.Query().Get("value"),
	})
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleCanonicalize(w http.ResponseWriter, r *http.Request) {
	var req CanonicalizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.ep.Canonicalize(r.Context(), &req)
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.ep.Search(r.Context(), &SearchRequest{
		List:  r.PathValue("list"),
		Query: r.URL.Query().Get("q"),
		Limit: limit,
	})
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleSimilarAdvisors(w http.ResponseWriter, r *http.Request) {
	resp, err := h.ep.SimilarAdvisors(r.Context(), &AdvisorsRequest{Name: r.URL.Query().Get("name")})
	respond(w, http.StatusOK, resp, err)
}

// --- clients ---

func (h *handler) handleClients(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		resp, err := h.ep.Clients(r.Context(), nil)
		respond(w, http.StatusOK, resp, err)
		return
	}
	h.exportClients(w, format)
}

// exportClients writes the table as a file download in format (csv, xlsx
// or json rows).
func (h *handler) exportClients(w http.ResponseWriter, format string) {
	tbl := &tabular.Table{Header: clients.Columns}
	for _, c := range h.svc.Clients() {
		tbl.Rows = append(tbl.Rows, c.Values())
	}
	var (
		ctype string
		write func(io.Writer, *tabular.Table) error
	)
	switch format {
	case "csv":
		ctype, write = "text/csv; charset=utf-8", tabular.WriteCSV
	case "xlsx":
		ctype, write = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", tabular.WriteXLSX
	case "json":
		ctype, write = "application/json; charset=utf-8", tabular.WriteJSON
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
		return
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="clientes.%s"`, format))
	if err := write(w, tbl); err != nil {
		h.logger.Warn("export clients", "format", format, "error", err)
	}
}

func (h *handler) handleClient(w http.ResponseWriter, r *http.Request) {
	resp, err := h.ep.Client(r.Context(), &ClientRequest{ID: r.PathValue("id")})
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var c clients.Client
	if !decodeJSON(w, r, &c) {
		return
	}
	resp, err := h.ep.CreateClient(r.Context(), &c)
	respond(w, http.StatusCreated, resp, err)
}

func (h *handler) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	req := UpdateRequest{ID: r.PathValue("id")}
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.ep.UpdateClient(r.Context(), &req)
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge_history"))
	resp, err := h.ep.DeleteClient(r.Context(), &DeleteRequest{ID: r.PathValue("id"), PurgeHistory: purge})
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleNextID(w http.ResponseWriter, r *http.Request) {
	resp, err := h.ep.NextID(r.Context(), nil)
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleRepairIDs(w http.ResponseWriter, r *http.Request) {
	resp, err := h.ep.RepairIDs(r.Context(), nil)
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	resp, err := h.ep.History(r.Context(), &ClientRequest{ID: r.PathValue("id")})
	respond(w, http.StatusOK, resp, err)
}

// --- documents ---

func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.ListDocuments(r.PathValue("id"), r.URL.Query().Get("glob"))
	if files == nil {
		files = []docs.File{}
	}
	respond(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "files": files}, err)
}

func (h *handler) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	var uploads []docs.Upload
	for _, fh := range r.MultipartForm.File["files"] {
		data, err := readPart(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		uploads = append(uploads, docs.Upload{Name: fh.Filename, Data: data})
	}
	if len(uploads) == 0 {
		writeError(w, http.StatusBadRequest, "no files")
		return
	}
	ctx := r.Context()
	names, err := h.svc.SaveDocuments(ctx, r.PathValue("id"), r.PathValue("category"), uploads, kit.GetActor(ctx))
	respond(w, http.StatusCreated, map[string]any{"id": r.PathValue("id"), "saved": names}, err)
}

func (h *handler) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.DocumentPath(r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filepath.Base(p)))
	http.ServeFile(w, r, p)
}

func (h *handler) handleRemoveDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.svc.RemoveDocument(ctx, r.PathValue("id"), r.PathValue("name"), kit.GetActor(ctx))
	respond(w, http.StatusOK, map[string]string{"removed": r.PathValue("name")}, err)
}

// --- imports ---

// handleImport takes a multipart body with a "file" part and optional
// "mode", "format", "encoding", "delimiter", "dry_run" and "mapping"
// (a JSON object of client column to source header) fields.
func (h *handler) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer f.Close()

	req := crm.ImportRequest{
		File:   fh.Filename,
		Format: r.FormValue("format"),
		Data:   f,
		Read:   importer.ReadOptions{Encoding: r.FormValue("encoding")},
		Options: importer.Options{
			Mode:  importer.Mode(r.FormValue("mode")),
			Actor: kit.GetActor(r.Context()),
		},
	}
	if d := r.FormValue("delimiter"); d != "" {
		if utf8.RuneCountInString(d) != 1 {
			writeError(w, http.StatusBadRequest, "delimiter must be one character")
			return
		}
		req.Read.Delimiter, _ = utf8.DecodeRuneInString(d)
	}
	if v := r.FormValue("dry_run"); v != "" {
		if req.Options.DryRun, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid dry_run")
			return
		}
	}
	if m := r.FormValue("mapping"); m != "" {
		if err := json.Unmarshal([]byte(m), &req.Options.Mapping); err != nil {
			writeError(w, http.StatusBadRequest, "invalid mapping")
			return
		}
	}

	resp, err := h.ep.Import(r.Context(), &req)
	respond(w, http.StatusOK, resp, err)
}

func (h *handler) handleImportRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.ep.ImportRuns(r.Context(), limit)
	respond(w, http.StatusOK, resp, err)
}

// --- health ---

type healthResponse struct {
	Status   string   `json:"status"`
	Clients  int      `json:"clients"`
	Version  uint64   `json:"version"`
	Catalogs []string `json:"catalogs"`
	NextID   string   `json:"next_id"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, s := range h.svc.Catalogs() {
		ids = append(ids, s.ID)
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Clients:  len(h.svc.Clients()),
		Version:  h.svc.Version(),
		Catalogs: ids,
		NextID:   h.svc.NextID(),
	})
}

// --- helpers ---

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, crm.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crm.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, crm.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, crm.ErrDocumentsDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func respond(w http.ResponseWriter, code int, resp any, err error) {
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, code, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// requestContext carries the actor and request id headers onto the context
// and echoes the request id.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			ctx = kit.WithActor(ctx, actor)
		}
		if id := r.Header.Get(RequestIDHeader); id != "" {
			ctx = kit.WithRequestID(ctx, id)
		}
		ctx, id := kit.EnsureRequestID(ctx)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// cors is a simple CORS middleware for browser-based clients.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ActorHeader+", "+RequestIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
