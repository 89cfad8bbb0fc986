package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"shelfcheck/internal/domain"
)

// ValidateRequest is one shelf photo's worth of extracted items.
type ValidateRequest struct {
	StoreID   string                 `json:"store_id"`
	Items     []domain.ExtractedItem `json:"items"`
	Threshold *float64               `json:"threshold,omitempty"`
}

type ValidateResponse struct {
	StoreID  string           `json:"store_id"`
	Verdicts []domain.Verdict `json:"verdicts"`
	Summary  domain.Summary   `json:"summary"`
}

// ValidateUseCase matches every item of a request and checks its price.
type ValidateUseCase struct {
	matcher  *Matcher
	policy   PricePolicy
	maxItems int
	workers  int
}

func NewValidateUseCase(matcher *Matcher, policy PricePolicy, maxItems, workers int) *ValidateUseCase {
	if workers < 1 {
		workers = 1
	}
	return &ValidateUseCase{
		matcher:  matcher,
		policy:   policy,
		maxItems: maxItems,
		workers:  workers,
	}
}

// Validate returns one verdict per item, in item order. Item failures are
// reported on their verdicts; the request fails only on bad input, when
// every item hit a retrieval error, or when ctx ends first. In the last
// case in-flight lookups are left to finish on their own.
func (u *ValidateUseCase) Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	if u.maxItems > 0 && len(req.Items) > u.maxItems {
		return nil, domain.InputError("validate", "%d items exceeds the limit of %d", len(req.Items), u.maxItems)
	}
	threshold := u.matcher.Threshold()
	if req.Threshold != nil {
		threshold = *req.Threshold
		if threshold < 0 || threshold > 1 {
			return nil, domain.InputError("validate", "threshold must be within [0,1], got %v", threshold)
		}
	}
	storeID := strings.TrimSpace(req.StoreID)

	started := time.Now()
	verdicts := make([]domain.Verdict, len(req.Items))
	done := make(chan struct{})

	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(u.workers)
		for i, item := range req.Items {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				match := u.matcher.Match(ctx, item, storeID, threshold)
				verdicts[i] = ValidatePrice(match, item.ObservedPrice, u.policy)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Str("store_id", storeID).Int("items", len(req.Items)).Msg("validation abandoned")
		return nil, ctx.Err()
	}

	if len(verdicts) > 0 && allRetrievalFailures(verdicts) {
		return nil, domain.RetrievalError("validate", verdicts[0].Match.Err)
	}

	resp := &ValidateResponse{
		StoreID:  storeID,
		Verdicts: verdicts,
		Summary:  domain.Summarize(verdicts),
	}
	log.Info().
		Str("store_id", storeID).
		Int("total", resp.Summary.Total).
		Int("ok", resp.Summary.MatchedCount).
		Int("mismatch", resp.Summary.MismatchCount).
		Int("not_found", resp.Summary.NotFoundCount).
		Dur("duration", time.Since(started)).
		Msg("validated items")
	return resp, nil
}

func allRetrievalFailures(verdicts []domain.Verdict) bool {
	for _, v := range verdicts {
		if domain.KindOf(v.Match.Err) != "retrieval" {
			return false
		}
	}
	return true
}
