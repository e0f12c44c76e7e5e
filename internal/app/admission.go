package service

import (
	"context"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
)

// EvaluateRequest decides whether a request may proceed. It never blocks on
// anything but the caller's own counters.
func (e *Engine) EvaluateRequest(ctx context.Context, identity, endpoint, userAgent string) model.Admission {
	return e.limiter.Admit(ctx, identity, endpoint, userAgent)
}

// RecordOutcome feeds a finished request into the behaviour ledger.
func (e *Engine) RecordOutcome(ctx context.Context, identity, endpoint string, statusCode int, userAgent string) model.SuspicionState {
	return e.RecordEvent(ctx, model.BehaviorEvent{
		IdentityKey: identity,
		Endpoint:    endpoint,
		StatusCode:  statusCode,
		UserAgent:   userAgent,
		TS:          e.now(),
	})
}

// RecordEvent feeds a fully described event into the behaviour ledger.
func (e *Engine) RecordEvent(ctx context.Context, ev model.BehaviorEvent) model.SuspicionState {
	return e.ledger.Record(ctx, ev)
}

// Suspicion returns the current state of an identity. Unknown identities
// report a zero score.
func (e *Engine) Suspicion(ctx context.Context, identity string) (model.SuspicionState, error) {
	if identity == "" {
		return model.SuspicionState{}, model.ErrEmptyIdentity
	}
	return e.ledger.State(ctx, identity), nil
}
