package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"animehub/internal/ratelimit"
	"animehub/pkg/apperrors"
	"animehub/pkg/logger"
	"animehub/pkg/metrics"
	"animehub/pkg/models"
)

// Limiter gates every outbound page request.
type Limiter interface {
	Wait(ctx context.Context) error
}

// StateStore persists the last page attempted.
type StateStore interface {
	Load() (models.IngestionState, error)
	Save(models.IngestionState) error
}

// StopReason says why a walk ended.
type StopReason string

const (
	StopExhausted   StopReason = "empty_pages"
	StopRateLimited StopReason = "rate_limit_retries"
	StopTransient   StopReason = "transient_retries"
	StopMaxPages    StopReason = "max_pages"
	StopFatal       StopReason = "fatal"
	StopCanceled    StopReason = "canceled"
)

// Options tune the walk. Zero values fall back to the defaults in
// DefaultOptions.
type Options struct {
	BaseURL         string
	OrderBy         string
	Sort            string
	MaxRetries      int
	EmptyPageLimit  int
	MaxPages        int
	RateLimitPause  Backoff
	TransientDelay  time.Duration
	ConnectionDelay time.Duration
	PageDelay       time.Duration
}

func DefaultOptions() Options {
	return Options{
		BaseURL:         DefaultBaseURL,
		MaxRetries:      3,
		EmptyPageLimit:  3,
		RateLimitPause:  ExponentialBackoff(time.Second, 60*time.Second),
		TransientDelay:  5 * time.Second,
		ConnectionDelay: 10 * time.Second,
	}
}

// Result describes one walk. FinalPage is the last page attempted; a
// request cut short by cancellation does not count, and FinalPage is
// StartPage-1 when no page was attempted.
type Result struct {
	Records      []models.Record
	StartPage    int
	FinalPage    int
	LastDataPage int
	DataPages    int
	EmptyPages   int
	Retries      int
	Reason       StopReason
	// Warning holds the last absorbed error when the walk ended early on
	// exhausted retries.
	Warning error
}

// Paginator walks the source API page by page. It is single-use per call:
// a new call starts again from the given page.
type Paginator struct {
	Client  *http.Client
	Limiter Limiter
	State   StateStore
	Sleep   ratelimit.Sleeper
	Metrics *metrics.Pipeline
	Opts    Options
}

// NewPaginator creates a paginator with a 15s HTTP timeout.
func NewPaginator(limiter Limiter, opts Options) *Paginator {
	return &Paginator{
		Client:  &http.Client{Timeout: 15 * time.Second},
		Limiter: limiter,
		Sleep:   ratelimit.Sleep,
		Opts:    opts,
	}
}

// FetchAll walks from startPage and accumulates every record. The returned
// error is non-nil only for an unexpected (fatal) failure or cancellation;
// in both cases the records gathered so far are still in Result.
func (p *Paginator) FetchAll(ctx context.Context, startPage int) (Result, error) {
	var all []models.Record
	res, err := p.Walk(ctx, startPage, func(_ int, recs []models.Record) error {
		all = append(all, recs...)
		return nil
	})
	res.Records = all
	return res, err
}

// Walk requests startPage, startPage+1, ... and hands every non-empty page
// to fn. It stops after EmptyPageLimit consecutive empty pages, after
// MaxRetries is exceeded for rate-limit or transient failures, on any other
// error, or when fn returns an error.
func (p *Paginator) Walk(ctx context.Context, startPage int, fn func(page int, recs []models.Record) error) (res Result, err error) {
	opts := p.options()
	if startPage < 1 {
		startPage = 1
	}
	log := logger.WithContext(ctx)

	res = Result{StartPage: startPage, FinalPage: startPage - 1}
	defer p.checkpoint(ctx, &res)

	page := startPage
	retries := 0
	empty := 0
	attempted := 0

	for {
		if opts.MaxPages > 0 && attempted >= opts.MaxPages {
			res.Reason = StopMaxPages
			return res, nil
		}

		if err := p.Limiter.Wait(ctx); err != nil {
			res.Reason = StopCanceled
			return res, err
		}
		if err := ctx.Err(); err != nil {
			res.Reason = StopCanceled
			return res, err
		}

		recs, err := p.fetchPage(ctx, page)
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
			// the request never completed, so the page is not attempted
			res.Reason = StopCanceled
			return res, ctxErr
		}
		res.FinalPage = page

		if err != nil {
			switch apperrors.TypeOf(err) {
			case apperrors.ErrorTypeRateLimit, apperrors.ErrorTypeTransient:
				retries++
				res.Retries++
				p.countRetry(err)
				if retries > opts.MaxRetries {
					res.Reason = StopTransient
					if apperrors.IsType(err, apperrors.ErrorTypeRateLimit) {
						res.Reason = StopRateLimited
					}
					res.Warning = err
					log.Warn("max retries reached, stopping early",
						zap.Int("page", page), zap.Int("retries", retries-1), zap.Error(err))
					return res, nil
				}

				delay := p.retryDelay(err, retries-1)
				log.Warn("retrying page",
					zap.Int("page", page), zap.Int("attempt", retries), zap.Duration("delay", delay), zap.Error(err))
				if err := p.Sleep(ctx, delay); err != nil {
					res.Reason = StopCanceled
					return res, err
				}
				continue
			default:
				res.Reason = StopFatal
				log.Error("unexpected error, stopping", zap.Int("page", page), zap.Error(err))
				return res, apperrors.Wrap(err, apperrors.ErrorTypeFatal, fmt.Sprintf("fetch page %d", page))
			}
		}

		retries = 0
		attempted++

		if len(recs) == 0 {
			empty++
			res.EmptyPages++
			p.countPage("empty")
			if empty >= opts.EmptyPageLimit {
				res.Reason = StopExhausted
				log.Info("no more data", zap.Int("final_page", page), zap.Int("empty_pages", empty))
				return res, nil
			}
			page++
			continue
		}

		empty = 0
		res.DataPages++
		res.LastDataPage = page
		p.countPage("data")

		if err := fn(page, recs); err != nil {
			res.Reason = StopFatal
			return res, apperrors.Wrap(err, apperrors.ErrorTypeFatal, fmt.Sprintf("handle page %d", page))
		}

		if res.DataPages%5 == 0 {
			log.Info("scrape progress", zap.Int("page", page), zap.Int("data_pages", res.DataPages))
		}

		page++
		if opts.PageDelay > 0 {
			if err := p.Sleep(ctx, opts.PageDelay); err != nil {
				res.Reason = StopCanceled
				return res, err
			}
		}
	}
}

func (p *Paginator) options() Options {
	def := DefaultOptions()
	o := p.Opts
	if o.BaseURL == "" {
		o.BaseURL = def.BaseURL
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.EmptyPageLimit <= 0 {
		o.EmptyPageLimit = def.EmptyPageLimit
	}
	if o.RateLimitPause == nil {
		o.RateLimitPause = def.RateLimitPause
	}
	return o
}

func (p *Paginator) pageURL(page int) (string, error) {
	opts := p.options()
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/anime")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	if opts.OrderBy != "" {
		q.Set("order_by", opts.OrderBy)
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// fetchPage performs one request and classifies failures:
// 429 is rate_limit, timeouts/connection errors and 502/503/504 are
// transient, everything else is unexpected.
func (p *Paginator) fetchPage(ctx context.Context, page int) ([]models.Record, error) {
	opts := p.options()
	u, err := p.pageURL(page)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeConfig, "build url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeConfig, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		delay := opts.ConnectionDelay
		kind := "connection"
		if isTimeout(err) {
			delay = opts.TransientDelay
			kind = "timeout"
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransient, kind).
			WithDetail("page", page).
			WithDetail("delay", delay)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, apperrors.New(apperrors.ErrorTypeRateLimit, "rate limited").
			WithDetail("page", page)
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, apperrors.Newf(apperrors.ErrorTypeTransient, "status %d", resp.StatusCode).
			WithDetail("page", page).
			WithDetail("delay", opts.TransientDelay)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.Newf(apperrors.ErrorTypeData, "status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))).
			WithDetail("page", page)
	}

	var pg jikanPage
	if err := json.NewDecoder(resp.Body).Decode(&pg); err != nil {
		if isTimeout(err) {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransient, "timeout").
				WithDetail("page", page).
				WithDetail("delay", opts.TransientDelay)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeData, "decode page").WithDetail("page", page)
	}

	out := make([]models.Record, 0, len(pg.Data))
	for _, item := range pg.Data {
		if rec, ok := item.toRecord(); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (p *Paginator) retryDelay(err error, n int) time.Duration {
	opts := p.options()
	if apperrors.IsType(err, apperrors.ErrorTypeRateLimit) {
		return opts.RateLimitPause(n)
	}
	var e *apperrors.Error
	if errors.As(err, &e) {
		if d, ok := e.Details["delay"].(time.Duration); ok {
			return d
		}
	}
	return opts.TransientDelay
}

// checkpoint records the last page attempted. It runs on every exit,
// including cancellation, and leaves the state alone when no page was
// attempted.
func (p *Paginator) checkpoint(ctx context.Context, res *Result) {
	if p.State == nil || res.FinalPage < res.StartPage {
		return
	}
	log := logger.WithContext(ctx)

	prev, err := p.State.Load()
	if err != nil {
		log.Warn("could not read previous ingestion state", zap.Error(err))
	}
	next := models.IngestionState{
		LastPage:     res.FinalPage,
		LastDataPage: prev.LastDataPage,
		LastRunID:    logger.RunID(ctx),
	}
	if res.LastDataPage > 0 {
		next.LastDataPage = res.LastDataPage
	}
	if err := p.State.Save(next); err != nil {
		log.Warn("could not save ingestion state", zap.Error(err))
	}
}

func (p *Paginator) countPage(result string) {
	if p.Metrics != nil {
		p.Metrics.PagesFetched.WithLabelValues(result).Inc()
	}
}

func (p *Paginator) countRetry(err error) {
	if p.Metrics != nil {
		p.Metrics.Retries.WithLabelValues(string(apperrors.TypeOf(err))).Inc()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
