// Package dedupe decides whether a new report duplicates an existing issue.
//
// Duplicates are local: only issues inside a hard radius are candidates, and
// the verdict is the best candidate whose text similarity clears the
// threshold of the mode that scored it. Infrastructure failures never block
// a submission; they produce a non-duplicate verdict and a log line.
package dedupe

import (
	"context"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/geo"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/similarity"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

var tracer = otel.Tracer("communitywatch.dedupe")

// Defaults.
const (
	DefaultSemanticThreshold = 0.82
	DefaultLexicalThreshold  = 0.6
	DefaultCandidateLimit    = 5
	scoreEpsilon             = 1e-9
)

// DefaultRadiusMeters is the 0.0045 degree duplicate radius.
var DefaultRadiusMeters = geo.DegreesToMeters(0.0045)

// Locator finds indexed points near a location.
type Locator interface {
	Query(ctx context.Context, lat, lng, radiusMeters float64) ([]geo.Hit, error)
}

// Matcher ranks candidate documents by text similarity.
type Matcher interface {
	Nearest(ctx context.Context, q similarity.Query) (similarity.Result, error)
}

// IssueGetter loads an issue for tie-breaking.
type IssueGetter interface {
	Get(ctx context.Context, id string) (model.Issue, error)
}

// Resolution is a verdict plus the query vector, which the intake path
// stores on the new issue.
type Resolution struct {
	Verdict    model.DuplicateVerdict
	Embedding  similarity.Vector
	Candidates int
}

// Resolver implements duplicate resolution.
type Resolver struct {
	locator    Locator
	matcher    Matcher
	issues     IssueGetter
	radiusM    float64
	thresholds similarity.Thresholds
	k          int
	log        logger.Logger
}

// NewResolver wires a resolver.
func NewResolver(locator Locator, matcher Matcher, issues IssueGetter, opts ...Option) *Resolver {
	r := &Resolver{
		locator: locator,
		matcher: matcher,
		issues:  issues,
		radiusM: DefaultRadiusMeters,
		thresholds: similarity.Thresholds{
			Embedding: DefaultSemanticThreshold,
			Lexical:   DefaultLexicalThreshold,
		},
		k:   DefaultCandidateLimit,
		log: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RadiusMeters returns the candidate radius.
func (r *Resolver) RadiusMeters() float64 { return r.radiusM }

// Check returns a verdict for q.
func (r *Resolver) Check(ctx context.Context, q model.DuplicateQuery) (model.DuplicateVerdict, error) {
	res, err := r.resolve(ctx, q, false)
	return res.Verdict, err
}

// Resolve returns a verdict and, when the backend is available, the vector
// of the query text.
func (r *Resolver) Resolve(ctx context.Context, q model.DuplicateQuery) (Resolution, error) {
	return r.resolve(ctx, q, true)
}

type candidate struct {
	match similarity.Match
	issue model.Issue
}

func (r *Resolver) resolve(ctx context.Context, q model.DuplicateQuery, wantVector bool) (Resolution, error) {
	if err := model.ValidateCoordinates(q.Lat, q.Lng); err != nil {
		return Resolution{}, err
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "dedupe.Resolve")
	defer span.End()

	hits, err := r.locator.Query(ctx, q.Lat, q.Lng, r.radiusM)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			return Resolution{}, ctxErr
		}
		r.log.Warn(ctx, "geo lookup failed, treating report as unique", logger.Error(err))
		metrics.RecordErrorByComponent("dedupe", "geo_unavailable")
		hits = nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	span.SetAttributes(attribute.Int("candidates", len(ids)))

	res, err := r.matcher.Nearest(ctx, similarity.Query{
		Text:        model.EmbeddingText(q.Category, q.Description),
		LexicalText: q.Description,
		Candidates:  ids,
		K:           r.k,
		Thresholds:  r.thresholds,
		AlwaysEmbed: wantVector,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			return Resolution{}, ctxErr
		}
		r.log.Warn(ctx, "similarity lookup failed, treating report as unique", logger.Error(err))
		metrics.RecordErrorByComponent("dedupe", "similarity_unavailable")
		res = similarity.Result{Mode: similarity.ModeLexical}
	}

	out := Resolution{Embedding: res.Vector, Candidates: len(ids)}
	out.Verdict.Degraded = len(ids) > 0 && res.Degraded()

	var best *candidate
	for _, m := range res.Matches {
		issue, err := r.issues.Get(ctx, m.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Resolution{}, ctxErr
			}
			// indexed but not yet readable: skip
			continue
		}
		c := candidate{match: m, issue: issue}
		if best == nil || better(c, *best) {
			best = &c
		}
	}
	if best != nil {
		out.Verdict = model.DuplicateVerdict{
			IsDuplicate:    true,
			MatchedIssueID: best.issue.ID,
			MatchedTitle:   string(best.issue.Category),
			CombinedScore:  best.match.Similarity,
			Degraded:       best.match.Mode.Degraded(),
		}
	}

	outcome := "unique"
	if out.Verdict.IsDuplicate {
		outcome = "duplicate"
	}
	metrics.RecordDuplicateCheck(outcome, res.Mode.String(), float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Bool("degraded", out.Verdict.Degraded))
	span.SetStatus(codes.Ok, "")
	if out.Verdict.Degraded {
		r.log.Debug(ctx, "duplicate check ran in degraded mode",
			logger.Int("candidates", len(ids)), logger.String("outcome", outcome))
	}
	return out, nil
}

// better orders candidates by score, then upvotes, then recency, then id.
func better(a, b candidate) bool {
	if math.Abs(a.match.Similarity-b.match.Similarity) > scoreEpsilon {
		return a.match.Similarity > b.match.Similarity
	}
	if a.issue.Upvotes != b.issue.Upvotes {
		return a.issue.Upvotes > b.issue.Upvotes
	}
	if !a.issue.CreatedAt.Equal(b.issue.CreatedAt) {
		return a.issue.CreatedAt.After(b.issue.CreatedAt)
	}
	return a.issue.ID < b.issue.ID
}

// IsContextError reports whether err is a cancellation or deadline.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
