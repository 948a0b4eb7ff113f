package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// Stage is how far an order submission has progressed.
type Stage string

const (
	StageStarted       Stage = "started"
	StageHeaderCreated Stage = "header_created"
	StageItemsWritten  Stage = "items_written"
	StagePriced        Stage = "priced"
	StageCompleted     Stage = "completed"
	StageFailed        Stage = "failed"
)

// ErrDuplicateSubmission is returned by Begin when the idempotency key belongs
// to a submission that has not failed.
var ErrDuplicateSubmission = errors.New("duplicate submission")

// Submission is one journalled run of the order submission flow.
type Submission struct {
	ID             uuid.UUID       `db:"id"`
	IdempotencyKey sql.NullString  `db:"idempotency_key"`
	OrderID        string          `db:"order_id"`
	Stage          Stage           `db:"stage"`
	FailedStage    Stage           `db:"failed_stage"`
	Amount         decimal.Decimal `db:"amount"`
	Error          string          `db:"error"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	ReconciledAt   *time.Time      `db:"reconciled_at"`
}

// Result is the caller-facing outcome of a completed submission.
func (s *Submission) Result() *models.SubmitOrderResult {
	return &models.SubmitOrderResult{
		OrderID:     models.ItemID(s.OrderID),
		TotalAmount: s.Amount,
	}
}

// Ledger journals order submissions so partially written orders can be found and
// repeated requests answered without new writes.
type Ledger interface {
	// Begin records a new submission. When key is already held by a submission that has
	// not failed, that submission is returned with ErrDuplicateSubmission. A failed
	// predecessor hands its key over to the new attempt.
	Begin(ctx context.Context, key string) (*Submission, error)
	Advance(ctx context.Context, id uuid.UUID, stage Stage, orderID models.ItemID, amount decimal.Decimal) error
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, reached Stage, cause error) error
	FindByKey(ctx context.Context, key string) (*Submission, error)
	// ListIncomplete returns unreconciled submissions that own an order header and either
	// failed or stopped progressing before olderThan.
	ListIncomplete(ctx context.Context, olderThan time.Time, limit int) ([]*Submission, error)
	MarkReconciled(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
}

// CartStore persists cart contents per session.
type CartStore interface {
	Load(ctx context.Context, sessionID string) ([]models.CartLine, error)
	Save(ctx context.Context, sessionID string, lines []models.CartLine) error
	Delete(ctx context.Context, sessionID string) error
}

func nullKey(key string) sql.NullString {
	return sql.NullString{String: key, Valid: key != ""}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
