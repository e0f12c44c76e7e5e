package service

import (
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/repository"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/similarity"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithStore uses s instead of opening the configured store. The engine
// closes it on Stop.
func WithStore(s repository.IssueStore) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

// WithEmbedder uses emb instead of the configured provider. A nil embedder
// runs the matcher in lexical mode.
func WithEmbedder(emb similarity.Embedder) Option {
	return func(e *Engine) {
		e.embedder = emb
		e.embedderSet = true
	}
}

// WithClock replaces the time source of every time-dependent component.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
