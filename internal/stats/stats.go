package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xtrntr/gridshare/internal/db"
	"github.com/xtrntr/gridshare/internal/models"
)

// Usage summarizes one resource's activity over a window
type Usage struct {
	HoursUsed      float64 `json:"hours_used"`
	CreditsEarned  float64 `json:"credits_earned"`
	UtilizationPct float64 `json:"utilization"`
}

// Analyzer derives utilization and earnings statistics from historical
// transactions. It only reads store state.
type Analyzer struct {
	DB *db.DB
}

// NewAnalyzer creates a new usage analyzer
func NewAnalyzer(database *db.DB) *Analyzer {
	return &Analyzer{DB: database}
}

// ResourceUsage computes per-resource usage over the trailing windowDays
// ending now. A transaction counts if it started inside the window; its
// duration runs to its end_time, or to now when end_time is unset.
// Utilization is hours used over the window's total hours, as a percentage.
// Resources with no activity get a zero entry.
func (a *Analyzer) ResourceUsage(ctx context.Context, resourceIDs []int, windowDays int) (map[int]Usage, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("window days must be positive: %w", models.ErrInvalidArgument)
	}

	cutoff := time.Now().AddDate(0, 0, -windowDays)
	totals, err := a.DB.UsageTotalsSince(ctx, resourceIDs, cutoff)
	if err != nil {
		return nil, err
	}

	usage := make(map[int]Usage, len(resourceIDs))
	for _, id := range resourceIDs {
		usage[id] = Usage{}
	}

	windowHours := float64(windowDays) * 24
	for _, row := range totals {
		usage[row.ResourceID] = Usage{
			HoursUsed:      round2(row.HoursUsed),
			CreditsEarned:  round2(row.CreditsEarned),
			UtilizationPct: round2(100 * row.HoursUsed / windowHours),
		}
	}
	return usage, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
