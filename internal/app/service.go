// Package service wires the triage components into the Engine the HTTP API
// and the background workers call into.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/embedding"
	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/mq/queue"
	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/mq/worker"
	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/repository"
	"github.com/AlexBiobelemo/Project-Andrew/internal/config"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/behavior"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/dedupe"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/geo"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/limiter"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/scoring"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/similarity"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

// Engine owns one instance of every triage component.
type Engine struct {
	mu sync.RWMutex

	cfg *config.Config

	store    repository.IssueStore
	board    *repository.Board
	geo      *geo.Index
	matcher  *similarity.Matcher
	resolver *dedupe.Resolver
	keys     dedupe.KeyRecorder
	scorer   *scoring.Scorer
	ledger   *behavior.Ledger
	limiter  *limiter.Limiter
	queue    *queue.InMemoryQueue
	pool     *worker.Pool

	embedder    similarity.Embedder
	embedderSet bool

	// open holds the ids of unresolved issues; density only counts these.
	open  sync.Map // id -> struct{}
	votes sync.Map // id -> *voters

	statusMu [64]sync.Mutex

	densityRadiusM float64

	started bool
	stopCh  chan struct{}
	loops   sync.WaitGroup

	now    func() time.Time
	logger logger.Logger
}

// New builds an engine from cfg. The issue store is opened here unless one
// is supplied with WithStore.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.New()
	}
	e := &Engine{
		cfg:            cfg,
		board:          repository.NewBoard(),
		densityRadiusM: cfg.DensityRadiusM,
		stopCh:         make(chan struct{}),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}

	if !e.embedderSet {
		emb, err := embedding.FromConfig(cfg.Embedding, e.logger.Named("embedding"))
		if err != nil {
			return nil, fmt.Errorf("embedding: %w", err)
		}
		e.embedder = emb
	}

	if e.store == nil {
		s, err := repository.Open(ctx, cfg.Store.Driver, cfg.Store.DSN,
			repository.WithLogger(e.logger.Named("store")))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		e.store = s
	}

	scorer, err := scoring.New(
		scoring.WithWeights(scoring.Weights{
			Upvotes:  cfg.Priority.UpvoteWeight,
			Severity: cfg.Priority.SeverityWeight,
			Density:  cfg.Priority.DensityWeight,
			Age:      cfg.Priority.AgeWeight,
		}),
		scoring.WithDecayHorizon(time.Duration(cfg.Priority.DecayHorizonH*float64(time.Hour))),
		scoring.WithSeverity(cfg.Priority.CategoryWeights),
	)
	if err != nil {
		_ = e.store.Close()
		return nil, fmt.Errorf("scoring: %w", err)
	}
	e.scorer = scorer

	e.geo = geo.NewIndex(geo.WithCellSizeDegrees(cfg.DuplicateRadiusDeg))

	e.matcher = similarity.NewMatcher(e.embedder,
		similarity.WithTimeout(cfg.EmbeddingTimeout()),
		similarity.WithCooldown(time.Duration(cfg.Embedding.UnhealthyCooldownMS)*time.Millisecond),
		similarity.WithClock(e.now),
		similarity.WithLogger(e.logger.Named("similarity")),
	)

	e.resolver = dedupe.NewResolver(e.geo, e.matcher, e.store,
		dedupe.WithRadiusMeters(geo.DegreesToMeters(cfg.DuplicateRadiusDeg)),
		dedupe.WithThresholds(similarity.Thresholds{
			Embedding: cfg.SemanticThreshold,
			Lexical:   cfg.LexicalThreshold,
		}),
		dedupe.WithCandidateLimit(cfg.CandidateLimit),
		dedupe.WithLogger(e.logger.Named("dedupe")),
	)
	e.keys = dedupe.NewKeyRecorder(dedupe.WithMaxKeys(cfg.IdempotencySize))

	b := cfg.Behavior
	e.ledger = behavior.NewLedger(
		behavior.WithPolicy(behavior.Policy{
			RateLimitedPenalty: b.RateLimitedPenalty,
			BotPenalty:         b.BotPenalty,
			BurstPenalty:       b.BurstPenalty,
			SuccessCredit:      b.SuccessCredit,
			DecayPerMinute:     b.DecayPerMinute,
			BurstWindow:        time.Duration(b.BurstWindowS) * time.Second,
			BurstThreshold:     b.BurstThreshold,
			BotPatterns:        b.BotPatterns,
			SensitiveEndpoints: b.SensitiveEndpoints,
			IdleTTL:            time.Duration(b.WindowH) * time.Hour,
			MaxRecent:          b.RecentEvents,
		}),
		behavior.WithClock(e.now),
		behavior.WithLogger(e.logger.Named("behavior")),
	)
	e.limiter = limiter.New(e.ledger,
		limiter.WithLimits(cfg.Limits),
		limiter.WithDefaultLimit(cfg.DefaultLimit),
		limiter.WithWindow(cfg.LimitWindow()),
		limiter.WithLongLimits(cfg.LongLimits),
		limiter.WithLongWindow(cfg.LongWindow()),
		limiter.WithClock(e.now),
		limiter.WithLogger(e.logger.Named("limiter")),
	)

	e.queue = queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueSize))
	e.pool = worker.NewPool(cfg.WorkerCount, e.queue, worker.HandlerFunc(e.handle),
		worker.WithLogger(e.logger.Named("worker")))
	return e, nil
}

// Start loads the stored issues into the in-memory indexes and starts the
// workers and periodic sweeps.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	issues, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load issues: %w", err)
	}
	if err := e.index(ctx, issues); err != nil {
		return fmt.Errorf("index issues: %w", err)
	}

	e.pool.Start(context.WithoutCancel(ctx))
	e.loop(time.Duration(e.cfg.DecaySweepIntervalS)*time.Second, e.RefreshPriorities)
	e.loop(time.Duration(e.cfg.JanitorIntervalS)*time.Second, e.janitor)

	e.started = true
	e.logger.Info(ctx, "triage engine started",
		logger.Int("issues", len(issues)),
		logger.Int("workers", e.pool.Size()),
		logger.Bool("embeddings", e.embedder != nil),
	)
	return nil
}

// loop runs fn every interval until Stop. A non-positive interval disables it.
func (e *Engine) loop(interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				fn(context.Background())
			}
		}
	}()
}

// Stop drains the task queue and closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.stopCh:
		return nil
	default:
		close(e.stopCh)
	}
	e.loops.Wait()

	var firstErr error
	if e.started {
		if err := e.pool.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.started = false
	e.logger.Info(ctx, "triage engine stopped")
	return firstErr
}

// GetStats returns service statistics for monitoring.
func (e *Engine) GetStats() map[string]any {
	e.mu.RLock()
	started := e.started
	e.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":             started,
		"workers":             e.pool.Size(),
		"tasks_processed":     e.pool.Processed(),
		"queue_length":        e.queue.Len(ctx),
		"geo_indexed":         e.geo.Len(),
		"documents":           e.matcher.Len(),
		"board_size":          e.board.Len(),
		"embedding_enabled":   e.embedder != nil,
		"embedding_available": e.matcher.Available(),
		"embedding_failures":  e.matcher.Health().ConsecutiveFailures(),
		"ledger_identities":   e.ledger.Len(),
		"limiter_counters":    e.limiter.Len(),
		"idempotency_keys":    e.keys.Size(),
		"open_indexed":        countMap(&e.open),
		"voter_sets":          countMap(&e.votes),
	}
	if total, open, err := e.store.Count(ctx); err == nil {
		stats["issues_total"] = total
		stats["issues_open"] = open
		metrics.UpdateIssueCounts(total, open)
	}
	return stats
}

func countMap(m *sync.Map) int {
	n := 0
	m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
