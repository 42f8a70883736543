package engine

import (
	"context"
	"math"
	"time"

	"taskmarket/internal/domain"
)

// UnderLimit reports whether the profile may still apply within the
// current window.
func (e Engine) UnderLimit(ctx context.Context, profileID string) (bool, error) {
	a, err := e.ApplicationAllowance(ctx, profileID)
	if err != nil {
		return false, err
	}
	return a.Under, nil
}

// ApplicationAllowance returns the profile's quota, keyed by its floored
// rating, and how many applications it made in the trailing window.
func (e Engine) ApplicationAllowance(ctx context.Context, profileID string) (a domain.Allowance, err error) {
	const op = "application_allowance"
	ctx, done := e.trace(ctx, op)
	defer done(&err)

	p, err := e.loadProfile(ctx, nil, op, profileID)
	if err != nil {
		return a, err
	}
	quota, err := e.quotaFor(op, p.Rating)
	if err != nil {
		return a, err
	}
	window := e.window()
	since := domain.FormatTime(e.now().Add(-window))
	used, err := e.Repo.CountApplicationsSince(ctx, nil, profileID, since)
	if err != nil {
		return a, err
	}
	return domain.Allowance{
		ProfileID: profileID,
		Rating:    p.Rating,
		Quota:     quota,
		Used:      used,
		Under:     used < quota,
		Window:    window.String(),
	}, nil
}

func (e Engine) quotaFor(op string, rating float64) (int, error) {
	if math.IsNaN(rating) || math.IsInf(rating, 0) {
		return 0, opErr(op, ErrInvalidRating, "rating %v", rating)
	}
	bucket := int(math.Floor(rating))
	quota, ok := e.quotaTable()[bucket]
	if !ok || bucket < 0 || bucket > 5 {
		return 0, opErr(op, ErrInvalidRating, "rating %.2f outside 0..5", rating)
	}
	return quota, nil
}

func (e Engine) quotaTable() map[int]int {
	if e.Config == nil || len(e.Config.Applications.Quota) == 0 {
		return map[int]int{0: 2, 1: 5, 2: 10, 3: 15, 4: 20, 5: 20}
	}
	return e.Config.Applications.Quota
}

func (e Engine) window() time.Duration {
	if e.Config == nil || e.Config.Applications.Window.Std() <= 0 {
		return 24 * time.Hour
	}
	return e.Config.Applications.Window.Std()
}
