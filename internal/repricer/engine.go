// Package repricer decides whether our listings need a lower price and
// submits the new prices, one listing at a time.
package repricer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/repricer/internal/logger"
	"github.com/rewired-gh/repricer/internal/market"
	"github.com/rewired-gh/repricer/internal/metrics"
	"github.com/rewired-gh/repricer/internal/models"
)

// Market is the subset of the marketplace client the engine drives.
type Market interface {
	FetchListings(ctx context.Context) ([]models.RawListing, error)
	FetchBestOffers(ctx context.Context, hashName string) ([]models.Offer, error)
	SetPrice(ctx context.Context, itemID string, price models.Price, currency string) error
}

// FloorStore supplies per-item price floors.
type FloorStore interface {
	GetFloor(hashName string) (models.Price, bool, error)
}

// Confirmer asks the operator to approve a price change.
type Confirmer interface {
	Confirm(ctx context.Context, listing models.Listing, newPrice models.Price) (bool, error)
}

// Config tunes request pacing and set-price retries.
type Config struct {
	Currency          string
	RequestPause      time.Duration
	SubmitMaxAttempts int
	SubmitRetryDelay  time.Duration
}

// DefaultConfig returns USD pricing, a 500ms pause and 3 submit attempts 10s apart.
func DefaultConfig() Config {
	return Config{
		Currency:          market.DefaultCurrency,
		RequestPause:      500 * time.Millisecond,
		SubmitMaxAttempts: 3,
		SubmitRetryDelay:  10 * time.Second,
	}
}

// Engine evaluates listings against the best offers and floors and submits
// undercut prices.
type Engine struct {
	market    Market
	floors    FloorStore
	confirmer Confirmer
	config    Config
	sleep     func(time.Duration)
	now       func() time.Time
}

// New creates an engine. An empty Currency means USD and SubmitMaxAttempts
// is at least 1.
func New(m Market, floors FloorStore, config Config) *Engine {
	if config.SubmitMaxAttempts < 1 {
		config.SubmitMaxAttempts = 1
	}
	if config.Currency == "" {
		config.Currency = market.DefaultCurrency
	}
	return &Engine{
		market: m,
		floors: floors,
		config: config,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// SetConfirmer installs the operator prompt used when autoConfirm is false.
// Without one, unconfirmed updates are cancelled.
func (e *Engine) SetConfirmer(c Confirmer) {
	e.confirmer = c
}

// EvaluateListings fetches our active listings and the best competing offer
// for each, pausing between offer queries to stay under the remote rate
// limit. A listing without offers, or whose offer query failed, is compared
// against its own price and therefore ranks first.
func (e *Engine) EvaluateListings(ctx context.Context) ([]models.Listing, error) {
	raw, err := e.market.FetchListings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listings: %w", err)
	}
	metrics.ListingsOnSale.Set(float64(len(raw)))
	if len(raw) == 0 {
		logger.Info("No listings on sale")
		return nil, nil
	}
	logger.Info("Found %d listings on sale", len(raw))

	listings := make([]models.Listing, 0, len(raw))
	for i, r := range raw {
		if i > 0 {
			e.sleep(e.config.RequestPause)
		}

		offers, err := e.market.FetchBestOffers(ctx, r.MarketHashName)
		if err != nil {
			logger.Warn("Failed to fetch offers for %s: %v", r.MarketHashName, err)
			offers = nil
		}

		l := models.NewListing(r, offers)
		if !l.HasOffers && err == nil {
			logger.Debug("No competing offers for %s", l.MarketHashName)
		}
		logger.Debug("%s: ours=%s best=%s position=%d", l.MarketHashName, l.CurrentPrice, l.BestPrice, l.Position)
		listings = append(listings, l)
	}

	return listings, nil
}

// Decide looks up the floor for the listing and applies the pure Decide rule.
func (e *Engine) Decide(listing models.Listing) (Decision, error) {
	floor, ok, err := e.floors.GetFloor(listing.MarketHashName)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read floor for %s: %w", listing.MarketHashName, err)
	}
	return Decide(listing, floor, ok), nil
}

// ApplyDecision carries out an Update decision. Submissions rejected as too
// frequent are retried after a blocking wait; any other error ends the
// attempt with a Failed outcome carrying the raw payload.
func (e *Engine) ApplyDecision(ctx context.Context, listing models.Listing, d Decision, autoConfirm bool) Outcome {
	if d.Kind != Update {
		return Outcome{Kind: Skipped, Decision: d}
	}

	logger.Info("Repricing %s: %s -> %s (-%s)", listing.MarketHashName, listing.CurrentPrice, d.NewPrice, listing.CurrentPrice-d.NewPrice)

	if !autoConfirm {
		if e.confirmer == nil {
			logger.Warn("No confirmer configured, cancelling update of %s", listing.MarketHashName)
			return Outcome{Kind: Cancelled, Decision: d, Price: d.NewPrice}
		}
		ok, err := e.confirmer.Confirm(ctx, listing, d.NewPrice)
		if err != nil {
			logger.Warn("Confirmation for %s failed: %v", listing.MarketHashName, err)
		}
		if err != nil || !ok {
			logger.Info("Update of %s cancelled by operator", listing.MarketHashName)
			return Outcome{Kind: Cancelled, Decision: d, Price: d.NewPrice}
		}
	}

	maxAttempts := e.config.SubmitMaxAttempts
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := e.market.SetPrice(ctx, listing.ItemID, d.NewPrice, e.config.Currency)
		if err == nil {
			logger.Info("Price of %s updated to %s", listing.MarketHashName, d.NewPrice)
			return Outcome{Kind: Updated, Decision: d, Price: d.NewPrice, Attempts: attempt}
		}
		lastErr = err

		if market.IsTooOften(err) && attempt < maxAttempts {
			logger.Warn("Rate limited updating %s, waiting %v before attempt %d/%d",
				listing.MarketHashName, e.config.SubmitRetryDelay, attempt+1, maxAttempts)
			metrics.SubmitRetriesTotal.Inc()
			e.sleep(e.config.SubmitRetryDelay)
			continue
		}

		failure := &models.Failure{
			MarketHashName: listing.MarketHashName,
			ItemID:         listing.ItemID,
			AttemptedPrice: d.NewPrice,
			Attempts:       attempt,
			Err:            lastErr,
			Raw:            market.RawPayload(lastErr),
		}
		logger.Error("Failed to update price: %s", failure)
		return Outcome{Kind: Failed, Decision: d, Price: d.NewPrice, Attempts: attempt, Failure: failure}
	}

	// unreachable: the loop always returns on its last attempt
	return Outcome{Kind: Failed, Decision: d, Price: d.NewPrice, Attempts: maxAttempts}
}

// ProcessAll evaluates every listing and applies the resulting decisions.
// Per-listing failures are counted and never abort the cycle; the error is
// non-nil only when the listings themselves could not be fetched.
func (e *Engine) ProcessAll(ctx context.Context, autoConfirm bool) (models.RunStats, error) {
	stats := models.RunStats{RunID: uuid.NewString(), StartedAt: e.now()}

	listings, err := e.EvaluateListings(ctx)
	if err != nil {
		stats.Duration = e.now().Sub(stats.StartedAt)
		return stats, err
	}

	stats.Total = len(listings)
	for _, l := range listings {
		d, err := e.Decide(l)
		if err != nil {
			logger.Error("%v", err)
			stats.Skipped++
			stats.Failed++
			stats.Failures = append(stats.Failures, models.Failure{
				MarketHashName: l.MarketHashName,
				ItemID:         l.ItemID,
				AttemptedPrice: l.BestPrice - models.Tick,
				Err:            err,
			})
			metrics.ListingOutcomesTotal.WithLabelValues("failed").Inc()
			continue
		}

		switch d.Kind {
		case AlreadyFirst:
			stats.FirstPosition++
		case BelowFloor:
			stats.BelowMin++
			logger.Info("%s: candidate %s is below floor %s", l.MarketHashName, d.Candidate, d.Floor)
		case NoImprovement:
			logger.Debug("%s: candidate %s does not improve on %s", l.MarketHashName, d.Candidate, l.CurrentPrice)
		}

		out := e.ApplyDecision(ctx, l, d, autoConfirm)
		switch out.Kind {
		case Updated:
			stats.Updated++
			metrics.ListingOutcomesTotal.WithLabelValues("updated").Inc()
			continue
		case Cancelled:
			stats.Cancelled++
		case Failed:
			stats.Failed++
			stats.Failures = append(stats.Failures, *out.Failure)
		}
		stats.Skipped++
		metrics.ListingOutcomesTotal.WithLabelValues(outcomeLabel(out)).Inc()
	}

	stats.Duration = e.now().Sub(stats.StartedAt)
	return stats, nil
}

func outcomeLabel(out Outcome) string {
	if out.Kind == Skipped {
		return out.Decision.Kind.String()
	}
	return out.Kind.String()
}
