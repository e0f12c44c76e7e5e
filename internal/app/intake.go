package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/mq/queue"
	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/repository"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

// NewIssue is a citizen report as submitted.
type NewIssue struct {
	Category    model.Category
	Description string
	Lat         float64
	Lng         float64
	// Force creates the issue even when it duplicates an existing one.
	Force bool
	// IdempotencyKey makes retries of the same submission return the first
	// result instead of creating a second issue.
	IdempotencyKey string
}

// Report is the outcome of ReportIssue.
type Report struct {
	Issue   model.Issue
	Verdict model.DuplicateVerdict
	// Replayed is true when the idempotency key matched an earlier submission.
	Replayed bool
}

// CheckDuplicate tells whether a report would duplicate an existing issue.
// Backend failures degrade the verdict; only invalid input or a cancelled
// context produce an error.
func (e *Engine) CheckDuplicate(ctx context.Context, q model.DuplicateQuery) (model.DuplicateVerdict, error) {
	q.Description = strings.TrimSpace(q.Description)
	if err := model.ValidateDuplicateQuery(q); err != nil {
		return model.DuplicateVerdict{}, err
	}
	return e.resolver.Check(ctx, q)
}

// ReportIssue runs the duplicate check and creates the issue unless it is a
// duplicate and in.Force is false, in which case the verdict is returned with
// ErrDuplicate.
func (e *Engine) ReportIssue(ctx context.Context, in NewIssue) (Report, error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := model.ValidateReport(in.Category, in.Description, in.Lat, in.Lng); err != nil {
		return Report{}, err
	}

	if in.IdempotencyKey != "" {
		if id, seen := e.keys.SeenAndRecord(ctx, in.IdempotencyKey); seen {
			if id == "" {
				return Report{}, ErrInFlight
			}
			issue, err := e.store.Get(ctx, id)
			if err != nil {
				return Report{}, err
			}
			return Report{Issue: issue, Replayed: true}, nil
		}
	}
	release := func() {
		if in.IdempotencyKey != "" {
			e.keys.Unrecord(context.WithoutCancel(ctx), in.IdempotencyKey)
		}
	}

	res, err := e.resolver.Resolve(ctx, model.DuplicateQuery{
		Category:    in.Category,
		Description: in.Description,
		Lat:         in.Lat,
		Lng:         in.Lng,
	})
	if err != nil {
		release()
		return Report{}, err
	}
	if res.Verdict.IsDuplicate && !in.Force {
		release()
		metrics.RecordIssueRejectedDuplicate()
		return Report{Verdict: res.Verdict}, ErrDuplicate
	}
	if err := ctx.Err(); err != nil {
		release()
		return Report{}, err
	}

	issue := model.Issue{
		ID:          repository.NewID(),
		Category:    in.Category,
		Description: in.Description,
		Lat:         in.Lat,
		Lng:         in.Lng,
		Embedding:   res.Embedding,
		CreatedAt:   e.now().UTC(),
		Status:      model.StatusReported,
	}

	// past this point the report is committed even if the caller goes away
	cctx := context.WithoutCancel(ctx)
	if err := e.store.Create(cctx, issue); err != nil {
		release()
		return Report{}, fmt.Errorf("create issue: %w", err)
	}
	if err := e.add(cctx, &issue); err != nil {
		e.logger.Error(cctx, "indexing new issue failed", logger.String("issue_id", issue.ID), logger.Error(err))
	}
	if in.IdempotencyKey != "" {
		e.keys.Bind(cctx, in.IdempotencyKey, issue.ID)
	}

	if p, err := e.recompute(cctx, issue.ID); err == nil {
		issue.Priority = p
	}
	e.touchNeighbours(cctx, &issue)

	metrics.RecordIssueReported()
	e.logger.Info(cctx, "issue reported",
		logger.String("issue_id", issue.ID),
		logger.String("category", string(issue.Category)),
		logger.Bool("forced_duplicate", res.Verdict.IsDuplicate),
		logger.Bool("degraded", res.Verdict.Degraded),
	)
	return Report{Issue: issue, Verdict: res.Verdict}, nil
}

// Seed bulk-loads historical issues. Issues without an id get one; issues
// already in the store are indexed but not written again.
func (e *Engine) Seed(ctx context.Context, issues ...model.Issue) error {
	batch := make([]model.Issue, 0, len(issues))
	for _, is := range issues {
		is.Description = strings.TrimSpace(is.Description)
		if err := model.ValidateReport(is.Category, is.Description, is.Lat, is.Lng); err != nil {
			return fmt.Errorf("seed %q: %w", is.ID, err)
		}
		if is.ID == "" {
			is.ID = repository.NewID()
		}
		if is.Status == "" {
			is.Status = model.StatusReported
		}
		if is.CreatedAt.IsZero() {
			is.CreatedAt = e.now().UTC()
		}
		if err := e.store.Create(ctx, is); err != nil && !errors.Is(err, repository.ErrExists) {
			return fmt.Errorf("seed %s: %w", is.ID, err)
		}
		batch = append(batch, is)
	}
	return e.index(ctx, batch)
}

// index puts stored issues into the geo index, the matcher and the board.
// Priorities are computed after every point is indexed so densities see the
// whole batch.
func (e *Engine) index(ctx context.Context, issues []model.Issue) error {
	for i := range issues {
		if err := e.add(ctx, &issues[i]); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.pool.Size(), 1))
	for i := range issues {
		id := issues[i].ID
		g.Go(func() error {
			_, err := e.recompute(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	metrics.UpdateGeoIndexSize(e.geo.Len())
	return nil
}

// add registers an issue with the in-memory components. A missing vector is
// queued for backfill.
func (e *Engine) add(ctx context.Context, issue *model.Issue) error {
	if err := e.matcher.Add(issue.ID, issue.Description, issue.Embedding); err != nil {
		return err
	}
	if issue.Open() {
		e.open.Store(issue.ID, struct{}{})
	}
	if err := e.geo.Insert(ctx, issue.ID, issue.Lat, issue.Lng); err != nil {
		return err
	}
	if !e.matcher.HasVector(issue.ID) && e.embedder != nil {
		e.queue.Enqueue(ctx, queue.Task{Kind: queue.KindEmbed, IssueID: issue.ID})
	}
	return nil
}

// touchNeighbours queues a recompute for open issues whose density may have
// changed because of issue.
func (e *Engine) touchNeighbours(ctx context.Context, issue *model.Issue) {
	hits, err := e.geo.Query(ctx, issue.Lat, issue.Lng, e.densityRadiusM)
	if err != nil {
		e.logger.Warn(ctx, "neighbour lookup failed", logger.String("issue_id", issue.ID), logger.Error(err))
		return
	}
	for _, h := range hits {
		if h.ID == issue.ID || !e.isOpen(h.ID) {
			continue
		}
		if !e.queue.Enqueue(ctx, queue.Task{Kind: queue.KindRecompute, IssueID: h.ID}) {
			e.logger.Debug(ctx, "recompute not queued", logger.String("issue_id", h.ID))
		}
	}
}

func (e *Engine) isOpen(id string) bool {
	_, ok := e.open.Load(id)
	return ok
}
