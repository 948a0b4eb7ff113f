package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// MemoryLedger keeps the journal in process. It backs tests and single-instance runs.
type MemoryLedger struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*Submission
	now  func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		subs: make(map[uuid.UUID]*Submission),
		now:  time.Now,
	}
}

// SetClock overrides the time source.
func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Get returns a copy of one submission.
func (l *MemoryLedger) Get(id uuid.UUID) (*Submission, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subs[id]
	if !ok {
		return nil, false
	}
	cp := *sub
	return &cp, true
}

func (l *MemoryLedger) Begin(ctx context.Context, key string) (*Submission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if key != "" {
		if existing := l.byKey(key); existing != nil {
			if existing.Stage != StageFailed {
				cp := *existing
				return &cp, ErrDuplicateSubmission
			}
			existing.IdempotencyKey = nullKey("")
		}
	}

	now := l.now()
	sub := &Submission{
		ID:             uuid.New(),
		IdempotencyKey: nullKey(key),
		Stage:          StageStarted,
		Amount:         decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	l.subs[sub.ID] = sub
	cp := *sub
	return &cp, nil
}

func (l *MemoryLedger) Advance(ctx context.Context, id uuid.UUID, stage Stage, orderID models.ItemID, amount decimal.Decimal) error {
	return l.update(id, func(s *Submission) {
		s.Stage = stage
		s.OrderID = orderID.String()
		s.Amount = amount
	})
}

func (l *MemoryLedger) Complete(ctx context.Context, id uuid.UUID) error {
	return l.update(id, func(s *Submission) { s.Stage = StageCompleted })
}

func (l *MemoryLedger) Fail(ctx context.Context, id uuid.UUID, reached Stage, cause error) error {
	return l.update(id, func(s *Submission) {
		s.Stage = StageFailed
		s.FailedStage = reached
		s.Error = errorText(cause)
	})
}

func (l *MemoryLedger) FindByKey(ctx context.Context, key string) (*Submission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sub := l.byKey(key); sub != nil {
		cp := *sub
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (l *MemoryLedger) ListIncomplete(ctx context.Context, olderThan time.Time, limit int) ([]*Submission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Submission, 0)
	for _, s := range l.subs {
		if s.ReconciledAt != nil || s.OrderID == "" {
			continue
		}
		stalled := s.Stage != StageCompleted && s.UpdatedAt.Before(olderThan)
		if s.Stage == StageFailed || stalled {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) MarkReconciled(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return l.update(id, func(s *Submission) {
		at := l.now()
		s.Amount = amount
		s.ReconciledAt = &at
	})
}

func (l *MemoryLedger) byKey(key string) *Submission {
	for _, s := range l.subs {
		if s.IdempotencyKey.Valid && s.IdempotencyKey.String == key {
			return s
		}
	}
	return nil
}

func (l *MemoryLedger) update(id uuid.UUID, fn func(*Submission)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	fn(sub)
	sub.UpdatedAt = l.now()
	return nil
}

// NoopLedger journals nothing. Idempotency keys are not honoured.
type NoopLedger struct{}

var _ Ledger = NoopLedger{}

func (NoopLedger) Begin(ctx context.Context, key string) (*Submission, error) {
	return &Submission{ID: uuid.New(), Stage: StageStarted}, nil
}

func (NoopLedger) Advance(context.Context, uuid.UUID, Stage, models.ItemID, decimal.Decimal) error {
	return nil
}

func (NoopLedger) Complete(context.Context, uuid.UUID) error { return nil }

func (NoopLedger) Fail(context.Context, uuid.UUID, Stage, error) error { return nil }

func (NoopLedger) FindByKey(context.Context, string) (*Submission, error) {
	return nil, apperrors.ErrNotFound
}

func (NoopLedger) ListIncomplete(context.Context, time.Time, int) ([]*Submission, error) {
	return nil, nil
}

func (NoopLedger) MarkReconciled(context.Context, uuid.UUID, decimal.Decimal) error { return nil }
