package core

import (
	"context"
	"fmt"
	"strconv"

	"stocktake/pkg/domain"
)

// CountQuantityRule blocks commits that would store a count record with a
// non-positive quantity. The count session validates input before it reaches
// the store; this rule is the store-level backstop so no caller can bypass it.
type CountQuantityRule struct{}

// Name identifies the rule.
func (CountQuantityRule) Name() string { return "count_quantity_positive" }

// Evaluate inspects count record changes in the transaction.
func (CountQuantityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityCountRecord {
			continue
		}
		if change.Action != domain.ActionCreate && change.Action != domain.ActionUpdate {
			continue
		}
		record, ok := change.After.(domain.CountRecord)
		if !ok {
			continue
		}
		if record.Quantity < 1 {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "count_quantity_positive",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("quantity must be a positive integer, got %d", record.Quantity),
				Entity:   domain.EntityCountRecord,
				EntityID: strconv.FormatInt(record.ID, 10),
			})
		}
	}
	return result, nil
}

// StockQuantityRule warns when a stock import carries a negative quantity.
// The bulk loader coerces these to zero before they reach the store, so a
// violation here points at a caller skipping normalization.
type StockQuantityRule struct{}

// Name identifies the rule.
func (StockQuantityRule) Name() string { return "stock_quantity_nonnegative" }

// Evaluate inspects the stock ledger after replace-all imports.
func (StockQuantityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := false
	for _, change := range changes {
		if change.Entity == domain.EntityStockRow {
			touched = true
			break
		}
	}
	if !touched {
		return domain.Result{}, nil
	}
	var result domain.Result
	for _, row := range view.ListStockRows() {
		if row.Quantity < 0 {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "stock_quantity_nonnegative",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("stock row %s has negative quantity %v", row.ID, row.Quantity),
				Entity:   domain.EntityStockRow,
				EntityID: row.ID,
			})
		}
	}
	return result, nil
}

// DefaultRulesEngine returns an engine with the standard stocktake rules registered.
func DefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(CountQuantityRule{})
	engine.Register(StockQuantityRule{})
	return engine
}
