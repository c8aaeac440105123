// Package plans resolves membership plans to the level they grant.
package plans

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/localbiz/membership/services/membership-service/internal/storage"
)

var ErrPlanNotFound = errors.New("plan not found")

type Finder interface {
	FindPlan(ctx context.Context, id string) (storage.Plan, error)
}

type Resolver struct {
	plans Finder
}

func NewResolver(plans Finder) *Resolver {
	return &Resolver{plans: plans}
}

// ResolveLevel returns the level granted by planID. A missing plan yields
// ErrPlanNotFound; store failures are returned as they are.
func (r *Resolver) ResolveLevel(ctx context.Context, planID string) (int, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return 0, fmt.Errorf("%w: empty plan id", ErrPlanNotFound)
	}
	p, err := r.plans.FindPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return 0, err
	}
	return p.Level, nil
}
