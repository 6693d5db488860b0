package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"stocktake/internal/core"
	"stocktake/internal/load"
	"stocktake/internal/resolve"
	"stocktake/pkg/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"schema_version": s.service.SchemaVersion(),
		"degraded":       s.degraded,
	})
}

func (s *Server) handleImportCatalog(w http.ResponseWriter, r *http.Request) {
	s.handleImport(w, r, s.service.ImportCatalog)
}

func (s *Server) handleImportStock(w http.ResponseWriter, r *http.Request) {
	s.handleImport(w, r, s.service.ImportStock)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request,
	loadFn func(ctx context.Context, rdr io.Reader, filename string) (load.Summary, error)) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "file", Message: "multipart file field required"})
		return
	}
	defer file.Close()

	summary, err := loadFn(r.Context(), file, header.Filename)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		identifier = r.URL.Query().Get("code")
	}
	res := s.service.Resolve(r.Context(), identifier)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubmitCount(w http.ResponseWriter, r *http.Request) {
	var input core.CountInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	rec, err := s.service.SubmitCount(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListCounts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.ListCounts())
}

func (s *Server) handleRecentCounts(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, domain.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.service.RecentCounts(limit))
}

func (s *Server) handleGetCount(w http.ResponseWriter, r *http.Request) {
	id, err := countID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.service.GetCount(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateCount(w http.ResponseWriter, r *http.Request) {
	id, err := countID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch core.CountPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	rec, err := s.service.UpdateCount(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteCount(w http.ResponseWriter, r *http.Request) {
	id, err := countID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.service.DeleteCount(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCounts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	deleted, err := s.service.DeleteCounts(r.Context(), body.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleDeleteAllCounts(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.service.DeleteAllCounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := domain.ExportFormat(r.URL.Query().Get("format"))
	// Buffer first: serialization errors must not leak into a half-written
	// download.
	var buf bytes.Buffer
	filename, err := s.service.Export(r.Context(), &buf, format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// The filename carries the effective format, which may come from the
	// operator's settings when the query names none.
	contentType := "text/csv; charset=utf-8"
	if strings.HasSuffix(filename, ".xlsx") {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Error("export write failed", "error", err)
	}
}

func (s *Server) handleArchiveExport(w http.ResponseWriter, r *http.Request) {
	format := domain.ExportFormat(r.URL.Query().Get("format"))
	info, err := s.service.ArchiveExport(r.Context(), format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var in domain.Settings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	saved, err := s.service.SaveSettings(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.mirror != nil {
		if err := s.mirror.Save(saved); err != nil {
			s.logger.Warn("settings mirror write failed", "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Products())
}

func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.StockRows())
}

func (s *Server) handleLots(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Lots())
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Locations())
}

// scanState holds the most recent resolution produced by the active scan
// session, polled by the UI.
type scanState struct {
	mu     sync.Mutex
	latest *resolve.Resolution
}

func (st *scanState) set(res *resolve.Resolution) {
	st.mu.Lock()
	st.latest = res
	st.mu.Unlock()
}

func (st *scanState) get() *resolve.Resolution {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.latest
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	s.scanLatest.set(nil)
	// Deliveries outlive this request, so resolution runs on a fresh context.
	s.scans.Start(func(code string) {
		res := s.service.Resolve(context.Background(), code)
		s.scanLatest.set(&res)
	})
	s.writeJSON(w, http.StatusOK, map[string]bool{"active": true})
}

func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	s.scans.Stop()
	s.writeJSON(w, http.StatusOK, map[string]bool{"active": false})
}

func (s *Server) handleScanDecode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	s.scans.Deliver(body.Payload)
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"active": s.scans.Active()})
}

func (s *Server) handleScanLatest(w http.ResponseWriter, r *http.Request) {
	latest := s.scanLatest.get()
	if latest == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"resolution": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"resolution": latest})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearAll(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func countID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, domain.ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return id, nil
}
