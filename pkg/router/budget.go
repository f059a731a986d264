package router

import (
	"context"
	"time"

	"github.com/inkbound-tabletop/inkbound-core/pkg/storage"
)

// BudgetConfig sets the spend ceilings a [CostTracker] enforces. A zero cap
// disables that window's check.
type BudgetConfig struct {
	DailyCapUSD   float64
	MonthlyCapUSD float64
}

// CostTracker evaluates the router's global budget against the storage
// layer's usage ledger. Windows are rolling (last 24h / last 30 days) rather
// than calendar-aligned, avoiding timezone ambiguity in "current day".
type CostTracker struct {
	store *storage.Store
	cfg   BudgetConfig
}

// NewCostTracker builds a [CostTracker] backed by store.
func NewCostTracker(store *storage.Store, cfg BudgetConfig) *CostTracker {
	return &CostTracker{store: store, cfg: cfg}
}

// IsWithinBudget reports whether spend in the configured windows is still
// under their caps. Checked at request entry, not per-token, so a single
// long response may overshoot its own cost — that overshoot is accepted.
func (c *CostTracker) IsWithinBudget(ctx context.Context) (bool, error) {
	now := time.Now()

	if c.cfg.DailyCapUSD > 0 {
		total, err := c.store.TotalCostSince(ctx, now.Add(-24*time.Hour).Unix())
		if err != nil {
			return false, err
		}
		if total >= c.cfg.DailyCapUSD {
			return false, nil
		}
	}

	if c.cfg.MonthlyCapUSD > 0 {
		total, err := c.store.TotalCostSince(ctx, now.Add(-30*24*time.Hour).Unix())
		if err != nil {
			return false, err
		}
		if total >= c.cfg.MonthlyCapUSD {
			return false, nil
		}
	}

	return true, nil
}
