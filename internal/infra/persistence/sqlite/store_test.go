package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"stocktake/pkg/domain"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocktake.db")

	s := openStore(t, path)
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		tx.ReplaceProducts([]domain.Product{{Code: "P001", Name: "醤油 1L", Barcode: "4901234567890"}})
		tx.ReplaceStock([]domain.StockRow{{ID: "r000001", Code: "P001", Location: "東京", Lot: "L1", Quantity: 30}})
		tx.AppendCount(domain.CountRecord{Code: "P001", Quantity: 5})
		tx.PutSettings(domain.Settings{Operator: "田中"})
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openStore(t, path)
	if p, ok := reopened.GetProduct("P001"); !ok || p.Name != "醤油 1L" {
		t.Fatalf("catalog lost across reopen: %+v", p)
	}
	if rows := reopened.ListStockByCode("P001"); len(rows) != 1 || rows[0].Quantity != 30 {
		t.Fatalf("ledger lost across reopen: %+v", rows)
	}
	counts := reopened.ListCounts()
	if len(counts) != 1 || counts[0].ID != 1 {
		t.Fatalf("counts lost across reopen: %+v", counts)
	}
	if settings, ok := reopened.GetSettings(); !ok || settings.Operator != "田中" {
		t.Fatalf("settings lost across reopen: %+v", settings)
	}
	if got := reopened.ListLocations(); len(got) != 1 || got[0] != "東京" {
		t.Fatalf("locations lost across reopen: %v", got)
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocktake.db")

	s := openStore(t, path)
	s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		tx.AppendCount(domain.CountRecord{Code: "P001", Quantity: 1})
		tx.AppendCount(domain.CountRecord{Code: "P001", Quantity: 2})
		tx.DeleteAllCounts()
		return nil
	})
	s.Close()

	reopened := openStore(t, path)
	var next domain.CountRecord
	reopened.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		next, _ = tx.AppendCount(domain.CountRecord{Code: "P001", Quantity: 3})
		return nil
	})
	if next.ID != 3 {
		t.Fatalf("id after reopen = %d, sequence must not reset", next.ID)
	}
}

func TestMigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocktake.db")

	first := openStore(t, path)
	if first.SchemaVersion() != domain.CurrentSchemaVersion {
		t.Fatalf("version = %d", first.SchemaVersion())
	}
	first.Close()

	second := openStore(t, path)
	if second.SchemaVersion() != domain.CurrentSchemaVersion {
		t.Fatalf("version after reopen = %d", second.SchemaVersion())
	}
}

func TestMigrationNeverDowngrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocktake.db")

	s := openStore(t, path)
	// Fake a store written by a future build.
	future := domain.CurrentSchemaVersion + 5
	if _, err := s.DB().Exec(`UPDATE schema_info SET version = ? WHERE id = 1`, future); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	s.Close()

	reopened := openStore(t, path)
	if reopened.SchemaVersion() != future {
		t.Fatalf("version = %d, a newer store must not be downgraded", reopened.SchemaVersion())
	}
}

func TestFailedTransactionDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocktake.db")

	s := openStore(t, path)
	s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		tx.ReplaceProducts([]domain.Product{{Code: "P001"}})
		return nil
	})
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		tx.ReplaceProducts([]domain.Product{{Code: "P999"}})
		return context.Canceled
	})
	if err == nil {
		t.Fatalf("expected rollback error")
	}
	s.Close()

	reopened := openStore(t, path)
	if _, ok := reopened.GetProduct("P001"); !ok {
		t.Fatalf("previous state lost")
	}
	if _, ok := reopened.GetProduct("P999"); ok {
		t.Fatalf("rolled-back state persisted")
	}
}
