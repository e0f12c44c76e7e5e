package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/similarity"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

const modeLocation = "location"

// Search finds issues by meaning and, optionally, by place. Text is embedded
// and compared with every indexed issue, resolved ones included; when the
// backend is unavailable the comparison falls back to word overlap and the
// result is flagged degraded. A search without text lists the issues around
// the location, newest first.
func (e *Engine) Search(ctx context.Context, q model.SearchQuery) (model.SearchResult, error) {
	q.Text = strings.TrimSpace(q.Text)
	if err := model.ValidateSearch(q); err != nil {
		return model.SearchResult{}, err
	}
	sc := e.cfg.Search
	limit := q.Limit
	switch {
	case limit == 0:
		limit = sc.DefaultLimit
	case limit < 0:
		return model.SearchResult{}, ErrInvalidLimit
	}
	if e.cfg.MaxTopLimit > 0 {
		limit = min(limit, e.cfg.MaxTopLimit)
	}
	radius := q.RadiusMeters
	if radius == 0 {
		radius = sc.RadiusM
	}
	if sc.MaxRadiusM > 0 {
		radius = min(radius, sc.MaxRadiusM)
	}

	var ids []string
	var dist map[string]float64
	if q.Near != nil {
		hits, err := e.geo.Query(ctx, q.Near.Lat, q.Near.Lng, radius)
		if err != nil {
			return model.SearchResult{}, fmt.Errorf("search area: %w", err)
		}
		dist = make(map[string]float64, len(hits))
		for _, h := range hits {
			ids = append(ids, h.ID)
			dist[h.ID] = h.DistanceMeters
		}
	} else {
		ids = e.matcher.IDs()
	}

	var (
		res model.SearchResult
		err error
	)
	if q.Text == "" {
		res, err = e.searchArea(ctx, ids, limit)
	} else {
		res, err = e.searchText(ctx, q.Text, ids, limit)
	}
	if err != nil {
		return model.SearchResult{}, err
	}
	if dist != nil {
		for i := range res.Hits {
			d := dist[res.Hits[i].Issue.ID]
			res.Hits[i].DistanceMeters = &d
		}
	}

	metrics.RecordSearch(res.Mode, len(res.Hits))
	e.logger.Debug(ctx, "search served",
		logger.String("mode", res.Mode),
		logger.Int("candidates", len(ids)),
		logger.Int("hits", len(res.Hits)),
		logger.Bool("degraded", res.Degraded))
	return res, nil
}

func (e *Engine) searchText(ctx context.Context, text string, ids []string, limit int) (model.SearchResult, error) {
	sc := e.cfg.Search
	found, err := e.matcher.Nearest(ctx, similarity.Query{
		Text:       text,
		Candidates: ids,
		K:          limit,
		Thresholds: similarity.Thresholds{Embedding: sc.Threshold, Lexical: sc.LexicalThreshold},
	})
	if err != nil {
		return model.SearchResult{}, err
	}
	res := model.SearchResult{
		Mode:     found.Mode.String(),
		Degraded: len(ids) > 0 && found.Degraded(),
		Hits:     make([]model.SearchHit, 0, min(len(found.Matches), limit)),
	}
	for _, m := range found.Matches {
		if len(res.Hits) == limit {
			break
		}
		issue, err := e.store.Get(ctx, m.ID)
		if err != nil {
			if ctx.Err() != nil {
				return model.SearchResult{}, ctx.Err()
			}
			continue
		}
		res.Hits = append(res.Hits, model.SearchHit{Issue: issue, Similarity: m.Similarity})
	}
	return res, nil
}

func (e *Engine) searchArea(ctx context.Context, ids []string, limit int) (model.SearchResult, error) {
	issues := make([]model.Issue, 0, len(ids))
	for _, id := range ids {
		issue, err := e.store.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return model.SearchResult{}, ctx.Err()
			}
			continue
		}
		issues = append(issues, issue)
	}
	sort.Slice(issues, func(i, j int) bool {
		if !issues[i].CreatedAt.Equal(issues[j].CreatedAt) {
			return issues[i].CreatedAt.After(issues[j].CreatedAt)
		}
		return issues[i].ID < issues[j].ID
	})
	res := model.SearchResult{Mode: modeLocation, Hits: make([]model.SearchHit, 0, min(len(issues), limit))}
	for _, issue := range issues[:min(len(issues), limit)] {
		res.Hits = append(res.Hits, model.SearchHit{Issue: issue})
	}
	return res, nil
}
