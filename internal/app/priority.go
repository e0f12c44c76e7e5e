package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/scoring"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/types"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

// ComputePriority scores issue at the current time. Density counts the other
// open issues within the density radius; if the index cannot answer, density
// is taken as zero.
func (e *Engine) ComputePriority(ctx context.Context, issue *model.Issue) float64 {
	return e.scorer.Score(scoring.InputFor(issue, e.density(ctx, issue)), e.now())
}

func (e *Engine) density(ctx context.Context, issue *model.Issue) int {
	hits, err := e.geo.Query(ctx, issue.Lat, issue.Lng, e.densityRadiusM)
	if err != nil {
		e.logger.Warn(ctx, "density lookup failed", logger.String("issue_id", issue.ID), logger.Error(err))
		return 0
	}
	n := 0
	for _, h := range hits {
		if h.ID != issue.ID && e.isOpen(h.ID) {
			n++
		}
	}
	return n
}

// recompute re-scores a stored issue, writes the priority back and keeps the
// board in step with its status.
func (e *Engine) recompute(ctx context.Context, id string) (float64, error) {
	start := time.Now()
	var priority float64
	issue, err := e.store.Update(ctx, id, func(is *model.Issue) error {
		if is.Open() {
			priority = e.ComputePriority(ctx, is)
			is.Priority = priority
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recompute %s: %w", id, err)
	}
	if issue.Open() {
		e.board.Upsert(id, priority)
	} else {
		e.board.Remove(id)
	}
	metrics.RecordPriorityRecomputation(float64(time.Since(start).Milliseconds()))
	return issue.Priority, nil
}

type voters struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// Upvote toggles identity's vote on an issue: the first call adds a vote,
// the next one takes it back. The count never goes below zero.
func (e *Engine) Upvote(ctx context.Context, id, identity string) (model.Issue, bool, error) {
	if identity == "" {
		return model.Issue{}, false, model.ErrEmptyIdentity
	}
	// issues are never deleted, so an id that exists now keeps existing
	if _, err := e.store.Get(ctx, id); err != nil {
		return model.Issue{}, false, err
	}
	v, _ := e.votes.LoadOrStore(id, &voters{ids: map[string]struct{}{}})
	set := v.(*voters)
	set.mu.Lock()
	defer set.mu.Unlock()

	_, had := set.ids[identity]
	delta := 1
	if had {
		delta = -1
	}
	issue, err := e.store.Update(ctx, id, func(is *model.Issue) error {
		is.Upvotes = max(is.Upvotes+delta, 0)
		return nil
	})
	if err != nil {
		return model.Issue{}, false, err
	}
	if had {
		delete(set.ids, identity)
	} else {
		set.ids[identity] = struct{}{}
	}

	if p, err := e.recompute(context.WithoutCancel(ctx), id); err == nil {
		issue.Priority = p
	}
	return issue, !had, nil
}

// UpdateStatus moves an issue through its workflow. Resolved issues leave the
// board and stop counting towards their neighbours' density; reopening puts
// them back.
func (e *Engine) UpdateStatus(ctx context.Context, id string, status model.Status) (model.Issue, error) {
	if _, err := model.ParseStatus(string(status)); err != nil {
		return model.Issue{}, err
	}
	var prev model.Status
	// the open set must follow the last committed status
	mu := e.statusLock(id)
	mu.Lock()
	issue, err := e.store.Update(ctx, id, func(is *model.Issue) error {
		prev = is.Status
		is.Status = status
		return nil
	})
	if err == nil {
		if status.Open() {
			e.open.Store(id, struct{}{})
		} else {
			e.open.Delete(id)
		}
	}
	mu.Unlock()
	if err != nil {
		return model.Issue{}, err
	}

	cctx := context.WithoutCancel(ctx)
	if p, err := e.recompute(cctx, id); err == nil {
		issue.Priority = p
	}
	if prev.Open() != status.Open() {
		e.touchNeighbours(cctx, &issue)
	}
	e.logger.Info(cctx, "issue status changed",
		logger.String("issue_id", id),
		logger.String("from", string(prev)),
		logger.String("to", string(status)),
	)
	return issue, nil
}

func (e *Engine) statusLock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &e.statusMu[h.Sum32()%uint32(len(e.statusMu))]
}

// Issue returns one issue.
func (e *Engine) Issue(ctx context.Context, id string) (model.Issue, error) {
	return e.store.Get(ctx, id)
}

// TopIssues returns open issues by priority, highest first, ties by id.
// n is capped at the configured maximum.
func (e *Engine) TopIssues(ctx context.Context, n int) ([]types.Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	if e.cfg.MaxTopLimit > 0 {
		n = min(n, e.cfg.MaxTopLimit)
	}
	entries, err := e.board.TopN(n)
	if err != nil {
		return nil, err
	}

	out := make([]types.Entry, 0, len(entries))
	for _, en := range entries {
		issue, err := e.store.Get(ctx, en.IssueID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out = append(out, types.Entry{
			Rank:     len(out) + 1,
			IssueID:  en.IssueID,
			Category: string(issue.Category),
			Priority: en.Priority,
			Upvotes:  issue.Upvotes,
		})
	}
	return out, nil
}
