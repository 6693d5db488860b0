package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"stocktake/internal/core"
	"stocktake/internal/infra/persistence/memory"
	"stocktake/internal/settings"
	"stocktake/pkg/domain"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.NewStore(core.DefaultRulesEngine())
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		tx.ReplaceProducts([]domain.Product{
			{Code: "P001", Name: "醤油 1L", Barcode: "4901234567890"},
		})
		tx.ReplaceStock([]domain.StockRow{
			{ID: "r000001", Code: "P001", Location: "東京", Lot: "L1", Quantity: 30},
			{ID: "r000002", Code: "P001", Location: "東京", Lot: "L1", Quantity: 20},
		})
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := core.NewService(store, nil, logger)
	return NewServer(svc, logger, Options{
		Mirror: settings.NewFile(filepath.Join(t.TempDir(), "settings.json")),
	})
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status        string `json:"status"`
		SchemaVersion int    `json:"schema_version"`
		Degraded      bool   `json:"degraded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.SchemaVersion != domain.CurrentSchemaVersion || body.Degraded {
		t.Fatalf("body = %+v", body)
	}
}

func TestResolveEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/resolve?identifier=P001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var res struct {
		Resolved    bool   `json:"resolved"`
		Name        string `json:"name"`
		Suggestions []struct {
			Lot      string  `json:"lot"`
			Quantity float64 `json:"quantity"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Resolved || res.Name != "醤油 1L" {
		t.Fatalf("resolution = %+v", res)
	}
	if len(res.Suggestions) != 1 || res.Suggestions[0].Quantity != 50 {
		t.Fatalf("suggestions = %+v", res.Suggestions)
	}
}

func TestCatalogAndLedgerListings(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/products", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("products status = %d: %s", rec.Code, rec.Body)
	}
	var products []domain.Product
	if err := json.Unmarshal(rec.Body.Bytes(), &products); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(products) != 1 || products[0].Code != "P001" {
		t.Fatalf("products = %+v", products)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/stock", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stock status = %d: %s", rec.Code, rec.Body)
	}
	var rows []domain.StockRow
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode stock: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("stock rows = %+v", rows)
	}
}

func TestCountLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/counts", map[string]any{
		"identifier": "P001", "quantity": 48, "lot": "L1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var created domain.CountRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 || created.Name != "醤油 1L" {
		t.Fatalf("created = %+v", created)
	}

	rec = doJSON(t, srv, http.MethodPatch, "/api/counts/1", map[string]any{"quantity": 50})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/counts", nil)
	var list []domain.CountRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].Quantity != 50 {
		t.Fatalf("list = %+v", list)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/counts/1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/counts/1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", rec.Code)
	}
}

func TestSubmitCountValidation(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/counts", map[string]any{
		"identifier": "P001", "quantity": 0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
}

func TestImportCatalogMultipart(t *testing.T) {
	srv := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "catalog.csv")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	io.WriteString(part, "商品コード,商品名\nP200,新商品\n")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/imports/catalog", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var summary struct {
		Succeeded int `json:"succeeded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %s", rec.Body)
	}
}

func TestImportRequiresFileField(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/imports/stock", map[string]string{"not": "a file"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestExportDownloadHeaders(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv, http.MethodPost, "/api/counts", map[string]any{"identifier": "P001", "quantity": 1})

	rec := doJSON(t, srv, http.MethodGet, "/api/export?format=csv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Fatalf("content type = %q", got)
	}
	cd := rec.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "stocktake-") || !strings.Contains(cd, ".csv") {
		t.Fatalf("disposition = %q", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatalf("download missing BOM")
	}
}

func TestExportHonorsSettingsFormat(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv, http.MethodPost, "/api/counts", map[string]any{"identifier": "P001", "quantity": 1})
	doJSON(t, srv, http.MethodPut, "/api/settings", map[string]string{"export_format": "xlsx"})

	// No format in the query: the operator's settings choose the workbook.
	rec := doJSON(t, srv, http.MethodGet, "/api/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("content type = %q, want workbook", got)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, ".xlsx") {
		t.Fatalf("disposition = %q", cd)
	}
	// Workbooks are zip archives.
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("body is not a workbook")
	}

	// An explicit query format still wins over settings.
	rec = doJSON(t, srv, http.MethodGet, "/api/export?format=csv", nil)
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Fatalf("content type = %q, want csv", got)
	}
}

func TestSettingsRoundTripMirrors(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPut, "/api/settings", map[string]string{
		"operator": "田中", "center": "第一センター",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/settings", nil)
	var got domain.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Operator != "田中" {
		t.Fatalf("settings = %+v", got)
	}

	mirrored, ok, err := srv.mirror.Load()
	if err != nil || !ok {
		t.Fatalf("mirror load: ok=%v err=%v", ok, err)
	}
	if mirrored.Operator != "田中" {
		t.Fatalf("mirror = %+v", mirrored)
	}
}

func TestScanSessionFlow(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/scan/latest", nil)
	if !strings.Contains(rec.Body.String(), `"resolution":null`) {
		t.Fatalf("latest before start = %s", rec.Body)
	}

	doJSON(t, srv, http.MethodPost, "/api/scan/start", nil)
	rec = doJSON(t, srv, http.MethodPost, "/api/scan/decode", map[string]string{"payload": "4901234567890"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("decode status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/scan/latest", nil)
	var body struct {
		Resolution *struct {
			Code string `json:"code"`
		} `json:"resolution"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Resolution == nil || body.Resolution.Code != "P001" {
		t.Fatalf("latest = %s", rec.Body)
	}

	// Stop is idempotent; further decodes vanish quietly.
	doJSON(t, srv, http.MethodPost, "/api/scan/stop", nil)
	doJSON(t, srv, http.MethodPost, "/api/scan/stop", nil)
	rec = doJSON(t, srv, http.MethodPost, "/api/scan/decode", map[string]string{"payload": "P001"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("decode after stop status = %d", rec.Code)
	}
}

func TestClearAllEndpoint(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv, http.MethodPost, "/api/counts", map[string]any{"identifier": "P001", "quantity": 1})

	rec := doJSON(t, srv, http.MethodPost, "/api/admin/clear", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/counts", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" && strings.TrimSpace(rec.Body.String()) != "null" {
		t.Fatalf("counts after clear = %s", rec.Body)
	}
}
