package service

import (
	"context"
	"fmt"

	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/mq/queue"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

// handle runs one queued task.
func (e *Engine) handle(ctx context.Context, t queue.Task) error {
	switch t.Kind {
	case queue.KindRecompute:
		_, err := e.recompute(ctx, t.IssueID)
		return err
	case queue.KindEmbed:
		return e.backfill(ctx, t.IssueID)
	default:
		return fmt.Errorf("%w: %q", queue.ErrUnknownKind, t.Kind)
	}
}

// backfill fetches the embedding of an issue stored without one.
func (e *Engine) backfill(ctx context.Context, id string) error {
	if e.matcher.HasVector(id) {
		return nil
	}
	issue, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if len(issue.Embedding) > 0 && e.matcher.SetVector(id, issue.Embedding) {
		return nil
	}
	vec, err := e.matcher.Embed(ctx, model.EmbeddingText(issue.Category, issue.Description))
	if err != nil {
		// the next priority sweep queues it again
		return err
	}
	if _, err := e.store.Update(ctx, id, func(is *model.Issue) error {
		is.Embedding = vec
		return nil
	}); err != nil {
		return err
	}
	e.matcher.SetVector(id, vec)
	return nil
}

// RefreshPriorities re-queues every open issue so age decay is applied, and
// retries embeddings that are still missing while the backend is available.
func (e *Engine) RefreshPriorities(ctx context.Context) {
	queued, embeds := 0, 0
	e.open.Range(func(k, _ any) bool {
		id := k.(string)
		if e.queue.Enqueue(ctx, queue.Task{Kind: queue.KindRecompute, IssueID: id}) {
			queued++
		}
		if e.embedder != nil && e.matcher.Available() && !e.matcher.HasVector(id) {
			if e.queue.Enqueue(ctx, queue.Task{Kind: queue.KindEmbed, IssueID: id}) {
				embeds++
			}
		}
		return true
	})
	e.logger.Debug(ctx, "priority sweep queued", logger.Int("recompute", queued), logger.Int("embed", embeds))
}

// janitor drops idle ledger and limiter state and refreshes gauges.
func (e *Engine) janitor(ctx context.Context) {
	now := e.now()
	evicted := e.ledger.Evict(now)
	swept := e.limiter.Sweep(now)

	metrics.UpdateLedgerIdentities(e.ledger.Len())
	metrics.UpdateLimiterCounters(e.limiter.Len())
	metrics.UpdateGeoIndexSize(e.geo.Len())
	if total, open, err := e.store.Count(ctx); err == nil {
		metrics.UpdateIssueCounts(total, open)
	}
	if evicted > 0 || swept > 0 {
		e.logger.Debug(ctx, "janitor pass", logger.Int("identities", evicted), logger.Int("counters", swept))
	}
}
