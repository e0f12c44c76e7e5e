package loadtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

const outputPermission = 0o600

// Runner executes scenarios against one server.
type Runner struct {
	cfg    Config
	client *HTTPClient
	log    logger.Logger
}

// NewRunner validates cfg and builds a runner.
func NewRunner(cfg Config, log logger.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{cfg: cfg, client: NewHTTPClient(cfg.BaseURL, cfg.Timeout), log: log}, nil
}

// CheckHealth verifies the service answers /healthz.
func (r *Runner) CheckHealth(ctx context.Context) error {
	resp, err := r.client.Do(ctx, http.MethodGet, "/healthz", "", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.Status)
	}
	return nil
}

// Duplicates files every generated report. Clusters run concurrently;
// reports inside a cluster are sent in order so the original lands first.
func (r *Runner) Duplicates(ctx context.Context) (DuplicateStats, error) {
	reports := Generate(r.cfg.Seed, r.cfg.Clusters, r.cfg.ClusterSize)
	if r.cfg.Output != "" {
		if err := saveReports(r.cfg.Output, reports); err != nil {
			r.log.Warn(ctx, "failed to save reports", logger.Error(err))
		}
	}

	var (
		mu    sync.Mutex
		stats DuplicateStats
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, cluster := range byCluster(reports) {
		g.Go(func() error {
			for _, rep := range cluster {
				outcome, degraded := r.submit(gctx, rep)
				mu.Lock()
				stats.record(rep, outcome, degraded)
				mu.Unlock()
				if err := gctx.Err(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()
	stats.Duration = time.Since(start)
	if err != nil && !errors.Is(err, context.Canceled) {
		return stats, err
	}
	r.log.Info(ctx, "duplicate scenario finished",
		logger.Int("submitted", stats.Submitted),
		logger.Int("created", stats.Created),
		logger.Int("rejected", stats.Rejected),
		logger.Float64("recall", stats.Recall()),
	)
	return stats, ctx.Err()
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeCreated
	outcomeRejected
	outcomeLimited
)

func (s *DuplicateStats) record(rep Report, o outcome, degraded bool) {
	s.Submitted++
	if !rep.Original {
		s.ExpectedDuplicates++
	}
	if degraded {
		s.Degraded++
	}
	switch o {
	case outcomeCreated:
		s.Created++
	case outcomeRejected:
		s.Rejected++
		if rep.Original {
			s.FalseRejects++
		} else {
			s.CaughtDuplicates++
		}
	case outcomeLimited:
		s.Limited++
	default:
		s.Failed++
	}
}

func (r *Runner) submit(ctx context.Context, rep Report) (outcome, bool) {
	// a fresh identity per report keeps the per-caller limit out of the way
	resp, err := r.client.Do(ctx, http.MethodPost, "/issues", "load-"+uuid.NewString(), rep)
	if err != nil {
		if r.cfg.Verbose {
			r.log.Warn(ctx, "report failed", logger.Error(err))
		}
		return outcomeFailed, false
	}
	var body struct {
		Verdict Verdict `json:"duplicate_check"`
	}
	_ = resp.Decode(&body)
	switch resp.Status {
	case http.StatusCreated, http.StatusOK:
		return outcomeCreated, body.Verdict.Degraded
	case http.StatusConflict:
		return outcomeRejected, body.Verdict.Degraded
	case http.StatusTooManyRequests:
		return outcomeLimited, false
	default:
		if r.cfg.Verbose {
			r.log.Warn(ctx, "unexpected status", logger.Int("status", resp.Status), logger.String("body", string(resp.Body)))
		}
		return outcomeFailed, false
	}
}

// Burst sends cfg.Burst duplicate checks as one identity, concurrently, and
// then reads that identity's suspicion state.
func (r *Runner) Burst(ctx context.Context) (BurstStats, error) {
	stats := BurstStats{Identity: "burst-" + uuid.NewString()[:8]}
	sample := Report{Category: "Pothole", Description: "Pothole on Aggrey Road", Lat: originLat, Lng: originLng}

	var (
		seq     atomic.Int64
		allowed atomic.Int64
		limited atomic.Int64
		failed  atomic.Int64
		first   atomic.Int64
		retry   atomic.Value
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := 0; i < r.cfg.Burst; i++ {
		g.Go(func() error {
			resp, err := r.client.Do(gctx, http.MethodPost, "/issues/check-duplicates", stats.Identity, sample)
			n := seq.Add(1)
			switch {
			case err != nil:
				failed.Add(1)
			case resp.Status == http.StatusTooManyRequests:
				limited.Add(1)
				first.CompareAndSwap(0, n)
				retry.CompareAndSwap(nil, resp.Header.Get("Retry-After"))
			case resp.Status == http.StatusOK:
				allowed.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	stats.Duration = time.Since(start)
	stats.Sent = int(seq.Load())
	stats.Allowed = int(allowed.Load())
	stats.Limited = int(limited.Load())
	stats.Failed = int(failed.Load())
	stats.FirstLimited = int(first.Load())
	if v, ok := retry.Load().(string); ok {
		stats.RetryAfter = v
	}

	resp, err := r.client.Do(ctx, http.MethodGet, "/admin/suspicion/user:"+stats.Identity, "load-admin", nil)
	if err != nil {
		return stats, fmt.Errorf("suspicion lookup failed: %w", err)
	}
	if resp.Status == http.StatusOK {
		_ = resp.Decode(&stats.Suspicion)
	}
	r.log.Info(ctx, "burst scenario finished",
		logger.Int("allowed", stats.Allowed),
		logger.Int("limited", stats.Limited),
		logger.String("level", stats.Suspicion.Level),
	)
	return stats, nil
}

// Board fetches the top entries and checks they are ordered by priority.
func (r *Runner) Board(ctx context.Context) (BoardStats, []Entry, error) {
	resp, err := r.client.Do(ctx, http.MethodGet, fmt.Sprintf("/issues/top?limit=%d", r.cfg.TopN), "load-admin", nil)
	if err != nil {
		return BoardStats{}, nil, fmt.Errorf("board fetch failed: %w", err)
	}
	if resp.Status != http.StatusOK {
		return BoardStats{}, nil, fmt.Errorf("board fetch failed with status: %d", resp.Status)
	}
	var entries []Entry
	if err := resp.Decode(&entries); err != nil {
		return BoardStats{}, nil, fmt.Errorf("board decode failed: %w", err)
	}
	return BoardStats{Entries: len(entries), Ordered: Ordered(entries)}, entries, nil
}

// Ordered reports whether entries are ranked 1..n by priority desc, id asc.
func Ordered(entries []Entry) bool {
	for i, e := range entries {
		if e.Rank != i+1 {
			return false
		}
		if i == 0 {
			continue
		}
		p := entries[i-1]
		if p.Priority < e.Priority || (p.Priority == e.Priority && p.IssueID > e.IssueID) {
			return false
		}
	}
	return true
}

func saveReports(path string, reports []Report) error {
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, outputPermission)
}
