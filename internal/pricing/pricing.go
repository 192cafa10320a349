package pricing

import (
	"context"
	"fmt"
	"math"

	"github.com/xtrntr/gridshare/internal/db"
	"github.com/xtrntr/gridshare/internal/models"
)

// defaultUnitPrices provide per-type fallback pricing when no market data
// exists for a type. Values are credits per hour per unit of capacity.
var defaultUnitPrices = map[string]float64{
	"CPU":     2.0,
	"GPU":     5.0,
	"RAM":     1.0,
	"Storage": 0.5,
	"Network": 3.0,
}

// fallbackUnitPrice applies to types not in the default table
const fallbackUnitPrice = 1.0

// Advisor recommends a listing price for a new resource from market data. It
// only reads store state.
type Advisor struct {
	DB *db.DB
}

// NewAdvisor creates a new pricing advisor
func NewAdvisor(database *db.DB) *Advisor {
	return &Advisor{DB: database}
}

// RecommendPrice returns a recommended credits_per_hour for a new listing:
// the market average unit price of the type (across all existing resources of
// that type, regardless of status) multiplied by the capacity, rounded to two
// decimal places. With no market data it falls back to the per-type default
// table.
func (a *Advisor) RecommendPrice(ctx context.Context, resourceType string, capacity float64) (float64, error) {
	if resourceType == "" {
		return 0, fmt.Errorf("resource type is required: %w", models.ErrInvalidArgument)
	}
	if capacity <= 0 {
		return 0, fmt.Errorf("capacity must be positive: %w", models.ErrInvalidArgument)
	}

	avg, ok, err := a.DB.AverageUnitPrice(ctx, resourceType)
	if err != nil {
		return 0, err
	}
	if ok {
		return Round2(avg * capacity), nil
	}

	unitPrice, ok := defaultUnitPrices[resourceType]
	if !ok {
		unitPrice = fallbackUnitPrice
	}
	return unitPrice * capacity, nil
}

// Round2 rounds to two decimal places, halves rounding away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
