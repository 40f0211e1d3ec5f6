package pipeline

import (
	"context"
	"net/http"

	"animehub/internal/bucket"
	"animehub/internal/delta"
	"animehub/internal/loader"
	"animehub/internal/ratelimit"
	"animehub/internal/scraper"
	"animehub/pkg/apperrors"
	"animehub/pkg/config"
	"animehub/pkg/database"
	"animehub/pkg/metrics"
)

// FromConfig wires the production pipeline: a token-bucket throttled
// paginator over the source API, a store-backed delta detector and the
// loader. m and events may be nil.
func FromConfig(cfg *config.Config, db *database.DB, st scraper.StateStore, m *metrics.Pipeline, events Publisher) (*Pipeline, error) {
	sc := cfg.Scraper

	pause, err := scraper.BackoffFromMode(sc.Backoff.Mode, sc.Backoff.Base, sc.Backoff.Max)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeConfig, "scraper.backoff")
	}
	mode, err := loader.ParseMode(cfg.Pipeline.LoadMode)
	if err != nil {
		return nil, err
	}
	policy, err := loader.ParseErrorPolicy(cfg.Pipeline.OnError)
	if err != nil {
		return nil, err
	}

	opts := scraper.Options{
		BaseURL:         sc.BaseURL,
		OrderBy:         sc.OrderBy,
		Sort:            sc.Sort,
		MaxRetries:      sc.MaxRetries,
		EmptyPageLimit:  sc.EmptyPageLimit,
		MaxPages:        sc.MaxPages,
		RateLimitPause:  pause,
		TransientDelay:  sc.TransientDelay,
		ConnectionDelay: sc.ConnectionDelay,
		PageDelay:       sc.PageDelay,
	}
	limiter := &meteredLimiter{bucket: ratelimit.New(sc.Rate, sc.Burst), metrics: m}
	pg := scraper.NewPaginator(limiter, opts)
	if sc.Timeout > 0 {
		pg.Client = &http.Client{Timeout: sc.Timeout}
	}
	pg.State = st
	pg.Metrics = m

	ld := loader.New(db, policy)
	ld.Metrics = m

	return &Pipeline{
		Fetcher:  pg,
		State:    st,
		Detector: delta.Detector{Existing: delta.StoreLookup(db)},
		Filter: bucket.Filter{
			RequireScore:    cfg.Pipeline.RequireScore,
			RequireEpisodes: cfg.Pipeline.RequireEpisodes,
			MinScore:        cfg.Pipeline.MinScore,
		},
		Sink:        ld,
		Mode:        mode,
		ArtifactDir: cfg.Pipeline.ArtifactDir,
		Events:      events,
		Metrics:     m,
	}, nil
}

// meteredLimiter records time spent throttled.
type meteredLimiter struct {
	bucket  *ratelimit.TokenBucket
	metrics *metrics.Pipeline
}

func (l *meteredLimiter) Wait(ctx context.Context) error {
	before := l.bucket.Waited()
	err := l.bucket.Wait(ctx)
	if l.metrics != nil {
		l.metrics.WaitSeconds.Add((l.bucket.Waited() - before).Seconds())
	}
	return err
}
