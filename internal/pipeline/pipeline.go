// Package pipeline drives one ingestion run through scrape, compare,
// bucket and load, and reports a Summary.
package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"animehub/internal/animecsv"
	"animehub/internal/bucket"
	"animehub/internal/delta"
	"animehub/internal/loader"
	"animehub/internal/scraper"
	"animehub/pkg/apperrors"
	"animehub/pkg/logger"
	"animehub/pkg/metrics"
	"animehub/pkg/models"
)

// Fetcher produces the raw batch; *scraper.Paginator satisfies it.
type Fetcher interface {
	FetchAll(ctx context.Context, startPage int) (scraper.Result, error)
}

// Sink persists the bucketed batch; *loader.Loader satisfies it.
type Sink interface {
	Load(ctx context.Context, recs []models.BucketedRecord, mode loader.Mode) (loader.Result, error)
}

// StateReader yields the page a run starts from.
type StateReader interface {
	Load() (models.IngestionState, error)
}

// ErrRunning is returned when a run is started while another is active.
var ErrRunning = apperrors.New(apperrors.ErrorTypeConflict, "a pipeline run is already in progress")

type Pipeline struct {
	Fetcher  Fetcher
	State    StateReader
	Detector delta.Detector
	Filter   bucket.Filter
	Sink     Sink
	Mode     loader.Mode

	// ArtifactDir enables the per-run CSV files when non-empty.
	ArtifactDir string
	Events      Publisher
	Metrics     *metrics.Pipeline

	now   func() time.Time
	mu    sync.Mutex
	stage Stage
}

func (p *Pipeline) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage == "" {
		return StageIdle
	}
	return p.stage
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// Run executes one run with a fresh run id. The error is non-nil only when
// the run ends in Failed; absorbed problems are listed in Summary.Warnings.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	return p.run(ctx, uuid.NewString())
}

func (p *Pipeline) run(ctx context.Context, runID string) (Summary, error) {
	ctx = logger.WithRun(ctx, runID)
	sum := Summary{RunID: runID, StartedAt: p.clock().UTC()}

	if err := p.begin(); err != nil {
		return sum, err
	}
	log := logger.WithContext(ctx)
	log.Info("pipeline run started")

	// Scraping
	ctx = p.announce(ctx, StageScraping, &sum)
	start := 1
	if p.State != nil {
		st, err := p.State.Load()
		if err != nil {
			p.warn(ctx, &sum, "could not read ingestion state, starting at page 1", err)
		} else {
			start = st.NextPage()
		}
	}

	res, err := p.Fetcher.FetchAll(ctx, start)
	sum.StartPage = res.StartPage
	sum.FinalPage = res.FinalPage
	sum.StopReason = res.Reason
	sum.Counts.Fetched = len(res.Records)
	p.count("fetched", len(res.Records))
	if res.Warning != nil {
		p.warn(ctx, &sum, "scrape ended early", res.Warning)
	}
	// The state already points past these pages, so the raw batch is kept
	// even when the run fails here.
	p.artifact(ctx, &sum, "raw", "anime_raw", animecsv.Raw(res.Records))
	if err != nil {
		if ctx.Err() == nil {
			return p.fail(ctx, &sum, err)
		}
		// Keep what was fetched: finish the remaining stages detached from
		// the canceled parent.
		p.warn(ctx, &sum, "run canceled during scrape, persisting fetched records", err)
		ctx = context.WithoutCancel(ctx)
	}

	// Comparing
	ctx = p.enter(ctx, StageComparing, &sum)
	fresh, err := p.Detector.Detect(ctx, res.Records)
	if err != nil {
		// The loader still skips stored ids, so an unknown persisted set
		// only costs duplicate attempts.
		p.warn(ctx, &sum, "could not read stored ids, treating every record as new", err)
		fresh = delta.NewRecords(res.Records, nil)
	}
	sum.Counts.New = len(fresh)
	p.count("new", len(fresh))
	p.artifact(ctx, &sum, "processed", "anime_new", animecsv.Raw(fresh))

	// Bucketing
	ctx = p.enter(ctx, StageBucketing, &sum)
	valid, drops := p.Filter.Apply(fresh)
	if drops.Total() > 0 {
		logger.WithContext(ctx).Info("dropped invalid records",
			zap.Int("missing_score", drops.MissingScore),
			zap.Int("missing_episodes", drops.MissingEpisodes),
			zap.Int("below_min_score", drops.BelowMinScore))
	}
	bucketed := bucket.ApplyAll(valid)
	sum.Counts.Valid = len(bucketed)
	sum.Counts.Dropped = drops
	p.count("valid", len(bucketed))
	p.artifact(ctx, &sum, "processed", "anime_processed", bucketed)

	// Loading
	ctx = p.enter(ctx, StageLoading, &sum)
	lr, err := p.Sink.Load(ctx, bucketed, p.Mode)
	sum.Counts.Loaded = lr.Persisted
	sum.Counts.Duplicates = lr.Duplicates
	sum.Counts.Failed = lr.Failed
	if err != nil {
		if apperrors.IsFatal(err) {
			return p.fail(ctx, &sum, err)
		}
		p.warn(ctx, &sum, "load stopped early", err)
	}

	p.enter(ctx, StageIdle, &sum)
	sum.Status = StatusCompleted
	sum.FinishedAt = p.clock().UTC()
	p.finish(&sum)
	log.Info("pipeline run completed",
		zap.Int("fetched", sum.Counts.Fetched),
		zap.Int("new", sum.Counts.New),
		zap.Int("valid", sum.Counts.Valid),
		zap.Int("loaded", sum.Counts.Loaded),
		zap.Int("duplicates", sum.Counts.Duplicates),
		zap.Duration("took", sum.Duration()))
	return sum, nil
}

// begin claims the pipeline by moving it to Scraping. Only one caller
// can succeed until the run ends in Idle or Failed.
func (p *Pipeline) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage.Active() {
		return ErrRunning
	}
	p.stage = StageScraping
	return nil
}

// enter moves to stage, announces it and returns ctx tagged with it.
func (p *Pipeline) enter(ctx context.Context, stage Stage, sum *Summary) context.Context {
	p.mu.Lock()
	from := p.stage
	if from == "" {
		from = StageIdle
	}
	p.stage = stage
	p.mu.Unlock()
	if !from.CanTransition(stage) {
		logger.WithContext(ctx).Error("illegal stage transition",
			zap.String("from", string(from)), zap.String("to", string(stage)))
	}
	return p.announce(ctx, stage, sum)
}

// announce publishes stage without changing p.stage.
func (p *Pipeline) announce(ctx context.Context, stage Stage, sum *Summary) context.Context {
	sum.Stage = stage
	if p.Metrics != nil {
		p.Metrics.SetStage(string(stage), stageNames())
	}
	p.publish(Event{Type: EventStage, RunID: sum.RunID, Stage: stage, At: p.clock().UTC(), Counts: sum.Counts})

	ctx = logger.WithStage(ctx, string(stage))
	if stage != StageIdle && stage != StageFailed {
		logger.WithContext(ctx).Info("stage started", zap.Int("records", stageInput(stage, sum.Counts)))
	}
	return ctx
}

func stageInput(stage Stage, c Counts) int {
	switch stage {
	case StageComparing:
		return c.Fetched
	case StageBucketing:
		return c.New
	case StageLoading:
		return c.Valid
	}
	return 0
}

func (p *Pipeline) fail(ctx context.Context, sum *Summary, err error) (Summary, error) {
	logger.WithContext(ctx).Error("pipeline run failed", zap.Error(err))
	sum.Error = err.Error()
	sum.Status = StatusFailed

	p.mu.Lock()
	p.stage = StageFailed
	p.mu.Unlock()
	sum.Stage = StageFailed
	if p.Metrics != nil {
		p.Metrics.SetStage(string(StageFailed), stageNames())
	}
	sum.FinishedAt = p.clock().UTC()
	p.publish(Event{Type: EventStage, RunID: sum.RunID, Stage: StageFailed, At: sum.FinishedAt, Counts: sum.Counts, Error: sum.Error})
	p.finish(sum)
	return *sum, err
}

func (p *Pipeline) finish(sum *Summary) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.Runs.WithLabelValues(sum.Status).Inc()
	p.Metrics.RunDuration.Observe(sum.Duration().Seconds())
}

func (p *Pipeline) warn(ctx context.Context, sum *Summary, msg string, err error) {
	logger.WithContext(ctx).Warn(msg, zap.Error(err))
	sum.Warnings = append(sum.Warnings, msg+": "+err.Error())
}

func (p *Pipeline) publish(e Event) {
	if p.Events != nil {
		p.Events.Publish(e)
	}
}

func (p *Pipeline) count(outcome string, n int) {
	if p.Metrics != nil {
		p.Metrics.Records.WithLabelValues(outcome).Add(float64(n))
	}
}

// artifact writes <dir>/<sub>/<prefix>_<date>.csv. Failures are warnings.
func (p *Pipeline) artifact(ctx context.Context, sum *Summary, sub, prefix string, recs []models.BucketedRecord) {
	if p.ArtifactDir == "" {
		return
	}
	path := filepath.Join(p.ArtifactDir, sub, prefix+"_"+p.clock().Format("2006-01-02")+".csv")
	if err := animecsv.WriteFile(path, recs); err != nil {
		p.warn(ctx, sum, "could not write "+path, err)
		return
	}
	sum.Artifacts = append(sum.Artifacts, path)
	logger.WithContext(ctx).Debug("artifact written", zap.String("path", path), zap.Int("records", len(recs)))
}
