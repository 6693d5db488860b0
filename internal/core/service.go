package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"stocktake/internal/blob"
	"stocktake/internal/export"
	"stocktake/internal/load"
	"stocktake/internal/resolve"
	"stocktake/internal/tabular"
	"stocktake/pkg/domain"
)

// Service is the application facade: every operation the transports expose
// goes through here so instrumentation and validation live in one place.
type Service struct {
	store    domain.PersistentStore
	loader   *load.Loader
	resolver *resolve.Engine
	archive  blob.Store
	metrics  MetricsRecorder
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewService wires a service over the given store. A nil metrics recorder
// falls back to the no-op recorder and a nil logger to slog.Default.
func NewService(store domain.PersistentStore, metrics MetricsRecorder, logger *slog.Logger) *Service {
	if metrics == nil {
		metrics = NoopMetricsRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		loader:   load.NewLoader(store, logger, load.KeySynthetic),
		resolver: resolve.NewEngine(store),
		metrics:  metrics,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (s *Service) SetNowFunc(fn func() time.Time) { s.nowFn = fn }

// WithArchive attaches an artifact store so finished exports can be
// published off-device. Returns the service for chaining.
func (s *Service) WithArchive(store blob.Store) *Service {
	s.archive = store
	return s
}

func (s *Service) observe(ctx context.Context, operation string, start time.Time, err error) {
	s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
}

// CountInput carries one count submission from the count screen.
type CountInput struct {
	Identifier string `json:"identifier"` // scanned barcode or typed code
	Quantity   int    `json:"quantity"`
	Unit       string `json:"unit,omitempty"`
	Lot        string `json:"lot,omitempty"`
	Shelf      string `json:"shelf,omitempty"`
}

// SubmitCount validates and records one count observation. Validation stops
// at the first failing field: identifier first, then quantity. The resolved
// name and barcode are snapshotted onto the record, as is the matching
// ledger context (warehouse and ledger quantity for the chosen lot), so a
// later re-import never rewrites history.
func (s *Service) SubmitCount(ctx context.Context, input CountInput) (rec domain.CountRecord, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "submit_count", start, err) }()

	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" {
		return domain.CountRecord{}, domain.ValidationError{Field: "identifier", Message: "must not be empty"}
	}
	if input.Quantity < 1 {
		return domain.CountRecord{}, domain.ValidationError{Field: "quantity", Message: "must be a positive integer"}
	}

	res := s.resolver.Resolve(ctx, identifier)
	candidate := domain.CountRecord{
		Code:     res.Code,
		Barcode:  res.Barcode,
		Name:     res.Name,
		Quantity: input.Quantity,
		Unit:     input.Unit,
		Lot:      input.Lot,
		Shelf:    input.Shelf,
	}
	if res.ViaBarcode && candidate.Barcode == "" {
		candidate.Barcode = identifier
	}
	if settings, ok := s.store.GetSettings(); ok {
		candidate.Operator = settings.Operator
		candidate.Center = settings.Center
	}
	for _, suggestion := range res.Suggestions {
		if suggestion.Lot != input.Lot {
			continue
		}
		qty := suggestion.Quantity
		candidate.LedgerQty = &qty
		if len(suggestion.Locations) > 0 {
			candidate.Warehouse = suggestion.Locations[0]
		}
		break
	}

	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		rec, txErr = tx.AppendCount(candidate)
		return txErr
	})
	if err != nil {
		return domain.CountRecord{}, err
	}
	s.logger.Info("count recorded",
		slog.Int64("id", rec.ID),
		slog.String("code", rec.Code),
		slog.Int("quantity", rec.Quantity),
		slog.Bool("resolved", res.Resolved))
	return rec, nil
}

// CountPatch carries an in-place edit of an existing count record. Nil
// fields are left untouched; ID, code, and creation time can never change.
type CountPatch struct {
	Quantity *int    `json:"quantity,omitempty"`
	Unit     *string `json:"unit,omitempty"`
	Lot      *string `json:"lot,omitempty"`
	Shelf    *string `json:"shelf,omitempty"`
}

// UpdateCount applies the patch to an existing record.
func (s *Service) UpdateCount(ctx context.Context, id int64, patch CountPatch) (rec domain.CountRecord, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "update_count", start, err) }()

	if patch.Quantity != nil && *patch.Quantity < 1 {
		return domain.CountRecord{}, domain.ValidationError{Field: "quantity", Message: "must be a positive integer"}
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		rec, txErr = tx.UpdateCount(id, func(c *domain.CountRecord) error {
			if patch.Quantity != nil {
				c.Quantity = *patch.Quantity
			}
			if patch.Unit != nil {
				c.Unit = *patch.Unit
			}
			if patch.Lot != nil {
				c.Lot = *patch.Lot
			}
			if patch.Shelf != nil {
				c.Shelf = *patch.Shelf
			}
			return nil
		})
		return txErr
	})
	return rec, err
}

// DeleteCount removes one count record.
func (s *Service) DeleteCount(ctx context.Context, id int64) (err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "delete_count", start, err) }()
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteCount(id)
	})
	return err
}

// DeleteCounts removes the given records in one transaction and reports how
// many actually existed. Missing ids are skipped, not errors.
func (s *Service) DeleteCounts(ctx context.Context, ids []int64) (deleted int, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "delete_counts", start, err) }()
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		deleted = tx.DeleteCounts(ids)
		return nil
	})
	return deleted, err
}

// DeleteAllCounts wipes the count collection. The id sequence keeps
// advancing so fresh records never reuse an exported id.
func (s *Service) DeleteAllCounts(ctx context.Context) (deleted int, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "delete_all_counts", start, err) }()
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		deleted = tx.DeleteAllCounts()
		return nil
	})
	return deleted, err
}

// GetCount fetches one record by id.
func (s *Service) GetCount(id int64) (domain.CountRecord, error) {
	rec, ok := s.store.GetCount(id)
	if !ok {
		return domain.CountRecord{}, domain.ErrNotFound{Entity: domain.EntityCountRecord, Key: fmt.Sprint(id)}
	}
	return rec, nil
}

// ListCounts returns every count record ordered by id.
func (s *Service) ListCounts() []domain.CountRecord { return s.store.ListCounts() }

// RecentCounts returns up to n records, newest first, for the count screen's
// history strip.
func (s *Service) RecentCounts(n int) []domain.CountRecord { return s.store.RecentCounts(n) }

// Resolve maps a scanned or typed identifier to catalog and ledger context.
func (s *Service) Resolve(ctx context.Context, identifier string) (res resolve.Resolution) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "resolve", start, nil) }()
	return s.resolver.Resolve(ctx, identifier)
}

// ImportCatalog replaces the product catalog from an uploaded file. The
// filename extension picks the parser; anything that is not .xlsx is read
// as CSV.
func (s *Service) ImportCatalog(ctx context.Context, r io.Reader, filename string) (summary load.Summary, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "import_catalog", start, err) }()
	table, err := readTable(r, filename)
	if err != nil {
		return load.Summary{}, err
	}
	return s.loader.LoadCatalog(ctx, table)
}

// ImportStock replaces the stock ledger from an uploaded file.
func (s *Service) ImportStock(ctx context.Context, r io.Reader, filename string) (summary load.Summary, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "import_stock", start, err) }()
	table, err := readTable(r, filename)
	if err != nil {
		return load.Summary{}, err
	}
	return s.loader.LoadStock(ctx, table)
}

func readTable(r io.Reader, filename string) (tabular.Table, error) {
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		return tabular.ReadWorkbook(r)
	}
	return tabular.ReadCSV(r)
}

// Export serializes every count record to w in the requested format and
// returns the deterministic download filename.
func (s *Service) Export(ctx context.Context, w io.Writer, format domain.ExportFormat) (filename string, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "export", start, err) }()

	if format == "" {
		format = domain.FormatCSV
		if settings, ok := s.store.GetSettings(); ok && settings.ExportFormat != "" {
			format = settings.ExportFormat
		}
	}
	records := s.store.ListCounts()
	switch format {
	case domain.FormatWorkbook:
		err = export.ToWorkbook(w, records)
	case domain.FormatCSV:
		err = export.ToCSV(w, records)
	default:
		return "", domain.ValidationError{Field: "format", Message: "unsupported export format"}
	}
	if err != nil {
		return "", err
	}
	return export.Filename(format, s.nowFn()), nil
}

// ArchiveExport serializes every count record and publishes the document to
// the configured artifact store under exports/<filename>. Fails when no
// archive is attached.
func (s *Service) ArchiveExport(ctx context.Context, format domain.ExportFormat) (info blob.Info, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "archive_export", start, err) }()

	if s.archive == nil {
		return blob.Info{}, fmt.Errorf("no export archive configured")
	}
	var buf bytes.Buffer
	filename, err := s.Export(ctx, &buf, format)
	if err != nil {
		return blob.Info{}, err
	}
	info, err = s.archive.Put(ctx, "exports/"+filename, bytes.NewReader(buf.Bytes()), blob.PutOptions{})
	if err != nil {
		return blob.Info{}, err
	}
	s.logger.Info("export archived",
		slog.String("key", info.Key),
		slog.Int64("size_bytes", info.Size),
		slog.String("driver", string(s.archive.Driver())))
	return info, nil
}

// Settings returns the stored operator settings, or zero-value defaults when
// none were ever saved.
func (s *Service) Settings() domain.Settings {
	settings, ok := s.store.GetSettings()
	if !ok {
		return domain.Settings{CodeScheme: domain.SchemeQR, ExportFormat: domain.FormatCSV}
	}
	return settings
}

// StoredSettings returns the raw settings record and whether one has ever
// been saved, without default substitution.
func (s *Service) StoredSettings() (domain.Settings, bool) {
	return s.store.GetSettings()
}

// SaveSettings persists the settings record, last write wins.
func (s *Service) SaveSettings(ctx context.Context, settings domain.Settings) (saved domain.Settings, err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "save_settings", start, err) }()
	settings.UpdatedAt = s.nowFn().UTC()
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		saved = tx.PutSettings(settings)
		return nil
	})
	return saved, err
}

// Lots returns the distinct lot identifiers present in the stock ledger,
// feeding the manual lot pick list.
func (s *Service) Lots() []string { return s.store.ListLots() }

// Locations returns the known warehouse locations in first-seen order.
func (s *Service) Locations() []string { return s.store.ListLocations() }

// Products returns the full catalog.
func (s *Service) Products() []domain.Product { return s.store.ListProducts() }

// StockRows returns the full stock ledger.
func (s *Service) StockRows() []domain.StockRow { return s.store.ListStockRows() }

// ClearAll wipes catalog, stock, counts, and known locations. Settings and
// the id sequence survive.
func (s *Service) ClearAll(ctx context.Context) (err error) {
	start := s.nowFn()
	defer func() { s.observe(ctx, "clear_all", start, err) }()
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		tx.ClearAll()
		return nil
	})
	if err == nil {
		s.logger.Warn("all collections cleared")
	}
	return err
}

// SchemaVersion reports the store's migrated schema version.
func (s *Service) SchemaVersion() int { return s.store.SchemaVersion() }
