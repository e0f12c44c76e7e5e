// Package similarity scores free-text reports against indexed issues.
//
// Two strategies sit behind the Strategy interface: cosine similarity of
// embedding vectors and Jaccard overlap of word sets. The Matcher picks the
// embedding strategy only while the backend is healthy; otherwise, and for
// documents that never got a vector, it scores lexically and flags the
// match as degraded.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

var tracer = otel.Tracer("communitywatch.similarity")

const (
	defaultTimeout  = 2 * time.Second
	defaultCooldown = 30 * time.Second
	tieEpsilon      = 1e-9
)

// Embedder generates embedding vectors from text. Dims returns 0 when the
// dimension is not known up front.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// Thresholds are the minimum similarities per mode.
type Thresholds struct {
	Embedding float64
	Lexical   float64
}

func (t Thresholds) forMode(m Mode) float64 {
	if m == ModeLexical {
		return t.Lexical
	}
	return t.Embedding
}

// Query asks for the documents most similar to a text.
type Query struct {
	// Text is sent to the embedding backend.
	Text string
	// LexicalText is tokenized for the fallback; Text is used when empty.
	LexicalText string
	// Candidates restricts scoring to these document ids.
	Candidates []string
	// K caps the result; ties with the K-th match are kept. K <= 0 keeps all.
	K int
	Thresholds Thresholds
	// Vector skips the embedding call when set.
	Vector Vector
	// AlwaysEmbed computes the vector even when there are no candidates.
	AlwaysEmbed bool
}

// Match is one document above threshold.
type Match struct {
	ID         string
	Similarity float64
	Mode       Mode
}

// Result of a Nearest call.
type Result struct {
	// Mode is ModeEmbedding when the query vector was available.
	Mode    Mode
	Matches []Match
	// Vector is the query vector, nil when the backend was unavailable.
	Vector Vector
}

// Degraded reports whether any part of the result came from the fallback.
func (r Result) Degraded() bool {
	if r.Mode.Degraded() {
		return true
	}
	for _, m := range r.Matches {
		if m.Mode.Degraded() {
			return true
		}
	}
	return false
}

// Matcher holds the document set and the embedding client.
type Matcher struct {
	embedder Embedder
	health   *Health
	timeout  time.Duration
	cooldown time.Duration
	now      func() time.Time
	log      logger.Logger

	cosine  Strategy
	overlap Strategy

	docs  sync.Map // id -> *Document
	n     atomic.Int64
	dims  atomic.Int64
	group singleflight.Group
}

// NewMatcher builds a matcher. A nil embedder leaves it permanently lexical.
func NewMatcher(embedder Embedder, opts ...Option) *Matcher {
	m := &Matcher{
		embedder: embedder,
		timeout:  defaultTimeout,
		cooldown: defaultCooldown,
		now:      time.Now,
		log:      logger.NewNop(),
		cosine:   Cosine{},
		overlap:  Overlap{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.health = NewHealth(m.cooldown, m.now)
	if embedder != nil && embedder.Dims() > 0 {
		m.dims.Store(int64(embedder.Dims()))
	}
	return m
}

// Health exposes the backend health tracker.
func (m *Matcher) Health() *Health { return m.health }

// Available reports whether the embedding strategy is currently selectable.
func (m *Matcher) Available() bool { return m.embedder != nil && m.health.Available() }

// Len returns the number of documents.
func (m *Matcher) Len() int { return int(m.n.Load()) }

// IDs returns the id of every document in no particular order.
func (m *Matcher) IDs() []string {
	ids := make([]string, 0, m.Len())
	m.docs.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}

// Add indexes a document. A nil or malformed vector leaves the document
// lexical-only until SetVector provides one. Re-adding an id is a no-op.
func (m *Matcher) Add(id, text string, vec Vector) error {
	if id == "" {
		return ErrEmptyID
	}
	doc := &Document{ID: id, Tokens: Tokenize(text)}
	if m.acceptable(vec) {
		doc.Vector = vec
	}
	if _, loaded := m.docs.LoadOrStore(id, doc); !loaded {
		m.n.Add(1)
	}
	return nil
}

// SetVector attaches a vector to an existing document. Documents are
// replaced rather than mutated so concurrent readers never see a torn write.
func (m *Matcher) SetVector(id string, vec Vector) bool {
	if !m.acceptable(vec) {
		return false
	}
	for {
		v, ok := m.docs.Load(id)
		if !ok {
			return false
		}
		old := v.(*Document)
		next := &Document{ID: old.ID, Tokens: old.Tokens, Vector: vec}
		if m.docs.CompareAndSwap(id, old, next) {
			return true
		}
	}
}

// HasVector reports whether the document has an embedding.
func (m *Matcher) HasVector(id string) bool {
	v, ok := m.docs.Load(id)
	return ok && len(v.(*Document).Vector) > 0
}

func (m *Matcher) acceptable(vec Vector) bool {
	if !validVector(vec) {
		return false
	}
	d := m.dims.Load()
	return d == 0 || int64(len(vec)) == d
}

// Embed returns the vector for text. Concurrent calls for the same text share
// one backend request, which runs on a context detached from any single
// caller and bounded by the timeout. A caller whose context ends stops
// waiting and gets ctx.Err().
func (m *Matcher) Embed(ctx context.Context, text string) (Vector, error) {
	if m.embedder == nil || !m.health.Available() {
		return nil, ErrUnavailable
	}
	ctx, span := tracer.Start(ctx, "similarity.Embed", trace.WithAttributes(attribute.Int("text.len", len(text))))
	defer span.End()

	ch := m.group.DoChan(text, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		start := time.Now()
		vec, err := m.embedder.Embed(cctx, text)
		latency := float64(time.Since(start).Milliseconds())
		if err == nil && !m.acceptable(vec) {
			err = fmt.Errorf("malformed vector of %d dims", len(vec))
		}
		if errors.Is(err, ErrThrottled) {
			metrics.RecordEmbeddingRequest("throttled", latency)
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if err != nil {
			metrics.RecordEmbeddingRequest("error", latency)
			m.health.Failure()
			m.log.Warn(ctx, "embedding backend unavailable", logger.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		metrics.RecordEmbeddingRequest("ok", latency)
		m.health.Success()
		m.dims.CompareAndSwap(0, int64(len(vec)))
		return vec, nil
	})

	// the backend may ignore its context; never wait longer than the timeout
	timer := time.NewTimer(m.timeout + m.timeout/4)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "embedding unavailable")
			return nil, res.Err
		}
		span.SetStatus(codes.Ok, "")
		return res.Val.(Vector), nil
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "context canceled")
		return nil, ctx.Err()
	case <-timer.C:
		m.health.Failure()
		metrics.RecordEmbeddingRequest("timeout", float64(m.timeout.Milliseconds()))
		span.SetStatus(codes.Error, "embedding timeout")
		return nil, fmt.Errorf("%w: timed out after %s", ErrUnavailable, m.timeout)
	}
}

// Nearest scores the candidates against the query. It only returns an error
// when ctx ends; backend failures switch the query to lexical scoring.
func (m *Matcher) Nearest(ctx context.Context, q Query) (Result, error) {
	ctx, span := tracer.Start(ctx, "similarity.Nearest",
		trace.WithAttributes(attribute.Int("candidates", len(q.Candidates))))
	defer span.End()

	res := Result{Mode: ModeLexical, Vector: q.Vector}
	if len(res.Vector) == 0 {
		res.Vector = nil
		if (len(q.Candidates) > 0 || q.AlwaysEmbed) && m.Available() {
			vec, err := m.Embed(ctx, q.Text)
			switch {
			case err == nil:
				res.Vector = vec
			case ctx.Err() != nil:
				return Result{}, ctx.Err()
			}
		}
	}
	if res.Vector != nil {
		res.Mode = ModeEmbedding
	}
	metrics.RecordSimilarityMode(res.Mode.String())
	span.SetAttributes(attribute.String("mode", res.Mode.String()))

	lexical := q.LexicalText
	if lexical == "" {
		lexical = q.Text
	}
	target := &Target{Tokens: Tokenize(lexical), Vector: res.Vector}

	for _, id := range q.Candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		v, ok := m.docs.Load(id)
		if !ok {
			continue
		}
		doc := v.(*Document)
		strategy := m.overlap
		if res.Mode == ModeEmbedding {
			if _, ok := m.cosine.Score(target, doc); ok {
				strategy = m.cosine
			}
		}
		score, _ := strategy.Score(target, doc)
		if score+tieEpsilon >= q.Thresholds.forMode(strategy.Mode()) {
			res.Matches = append(res.Matches, Match{ID: id, Similarity: score, Mode: strategy.Mode()})
		}
	}

	sort.Slice(res.Matches, func(i, j int) bool {
		a, b := res.Matches[i], res.Matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.ID < b.ID
	})
	if q.K > 0 && len(res.Matches) > q.K {
		cut := q.K
		floor := res.Matches[q.K-1].Similarity
		for cut < len(res.Matches) && floor-res.Matches[cut].Similarity <= tieEpsilon {
			cut++
		}
		res.Matches = res.Matches[:cut]
	}
	return res, nil
}

// IsUnavailable reports whether err came from the embedding backend.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
