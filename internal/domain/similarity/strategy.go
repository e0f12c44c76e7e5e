package similarity

import (
	"math"
	"strings"
	"unicode"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Mode names the strategy that produced a similarity score.
type Mode int

const (
	// ModeEmbedding scores by cosine similarity of embedding vectors.
	ModeEmbedding Mode = iota
	// ModeLexical scores by token overlap and is used when vectors are missing.
	ModeLexical
)

func (m Mode) String() string {
	if m == ModeLexical {
		return "lexical"
	}
	return "embedding"
}

// Degraded reports whether the mode is the fallback.
func (m Mode) Degraded() bool { return m == ModeLexical }

// TokenSet is the lower-cased word set of a text.
type TokenSet map[string]struct{}

// Tokenize splits text on anything that is not a letter or digit.
func Tokenize(text string) TokenSet {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(TokenSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Strategy scores a query against one document. ok is false when the
// strategy has nothing to compare, for example a document without a vector.
type Strategy interface {
	Mode() Mode
	Score(p *Target, d *Document) (score float64, ok bool)
}

// Target is the query side of a comparison.
type Target struct {
	Tokens TokenSet
	Vector Vector
}

// Document is an indexed text with an optional vector.
type Document struct {
	ID     string
	Tokens TokenSet
	Vector Vector
}

// Cosine compares embedding vectors.
type Cosine struct{}

func (Cosine) Mode() Mode { return ModeEmbedding }

func (Cosine) Score(p *Target, d *Document) (float64, bool) {
	if len(p.Vector) == 0 || len(p.Vector) != len(d.Vector) {
		return 0, false
	}
	return CosineSimilarity(p.Vector, d.Vector), true
}

// Overlap compares token sets with the Jaccard index.
type Overlap struct{}

func (Overlap) Mode() Mode { return ModeLexical }

func (Overlap) Score(p *Target, d *Document) (float64, bool) {
	return Jaccard(p.Tokens, d.Tokens), true
}

// CosineSimilarity returns the cosine of the angle between a and b clamped to
// [0, 1]. Mismatched, empty or zero vectors score 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	s := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(0, math.Min(1, s))
}

// Jaccard returns |a ∩ b| / |a ∪ b|, or 0 when both sets are empty.
func Jaccard(a, b TokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func validVector(v Vector) bool {
	if len(v) == 0 {
		return false
	}
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return true
}
