package match

import (
	"context"
	"fmt"

	"github.com/xtrntr/gridshare/internal/db"
	"github.com/xtrntr/gridshare/internal/models"
)

const (
	// recommendLimit caps how many resources a recommendation returns
	recommendLimit = 5
	// perTypeLimit caps how many resources each previously-used type contributes
	perTypeLimit = 3
)

// Criteria narrows a search over the available pool. Zero values mean "no
// filter". When RequesterID is set, resources owned by the requester are
// excluded from the results.
type Criteria struct {
	Type              string
	MinCapacity       float64
	MaxCreditsPerHour float64
	RequesterID       int
}

// Matcher ranks available resources for consumers. It only reads store state;
// its output is a suggestion, not a reservation — a resource can be taken by
// the time the caller tries to allocate it.
type Matcher struct {
	DB *db.DB
}

// NewMatcher creates a new matcher
func NewMatcher(database *db.DB) *Matcher {
	return &Matcher{DB: database}
}

// Search lists available resources matching the criteria, best value first:
// ordered by unit price (credits_per_hour / capacity) ascending, ties broken
// by resource id so the ranking is reproducible.
func (m *Matcher) Search(ctx context.Context, criteria Criteria) ([]models.Resource, error) {
	if criteria.MinCapacity < 0 {
		return nil, fmt.Errorf("min capacity cannot be negative: %w", models.ErrInvalidArgument)
	}
	if criteria.MaxCreditsPerHour < 0 {
		return nil, fmt.Errorf("max credits per hour cannot be negative: %w", models.ErrInvalidArgument)
	}

	return m.DB.AvailableResources(ctx, db.ResourceFilter{
		Type:              criteria.Type,
		MinCapacity:       criteria.MinCapacity,
		MaxCreditsPerHour: criteria.MaxCreditsPerHour,
		ExcludeOwner:      criteria.RequesterID,
	})
}

// Recommend suggests up to 5 available resources for a user. Types the user
// has borrowed before contribute up to 3 resources each, most-used type
// first, cheapest unit price first within a type. If that yields fewer than
// 5, the globally most-transacted available resources pad the list. Both
// phases exclude the user's own resources. A resource may appear twice when
// the phases overlap; the list is a ranking aid, not an allocation guarantee.
func (m *Matcher) Recommend(ctx context.Context, userID int) ([]models.Resource, error) {
	typeCounts, err := m.DB.ConsumerTypeCounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	var recommended []models.Resource
	for _, tc := range typeCounts {
		if len(recommended) >= recommendLimit {
			break
		}
		similar, err := m.DB.AvailableByType(ctx, tc.Type, userID, perTypeLimit)
		if err != nil {
			return nil, err
		}
		for _, r := range similar {
			recommended = append(recommended, r)
			if len(recommended) >= recommendLimit {
				break
			}
		}
	}

	if len(recommended) < recommendLimit {
		popular, err := m.DB.PopularAvailable(ctx, userID, recommendLimit-len(recommended))
		if err != nil {
			return nil, err
		}
		recommended = append(recommended, popular...)
	}

	return recommended, nil
}
