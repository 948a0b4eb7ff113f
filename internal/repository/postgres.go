package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/migrations"
)

const uniqueViolation = "23505"

const submissionColumns = `
	id, idempotency_key, order_id, stage, failed_stage, amount, error,
	created_at, updated_at, reconciled_at
`

// Migrate applies the embedded ledger schema.
func Migrate(db *sql.DB, dbName string, logger *logging.LoggerV2) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("Ledger schema up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("Ledger migrations applied")
	return nil
}

// PostgresLedger implements Ledger on the order_submissions table.
type PostgresLedger struct {
	db     *sqlx.DB
	logger *logging.LoggerV2
	now    func() time.Time
}

var _ Ledger = (*PostgresLedger)(nil)

func NewPostgresLedger(db *sqlx.DB, logger *logging.LoggerV2) *PostgresLedger {
	return &PostgresLedger{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (l *PostgresLedger) Begin(ctx context.Context, key string) (*Submission, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if key != "" {
		var existing Submission
		err := tx.GetContext(ctx, &existing,
			`SELECT `+submissionColumns+` FROM order_submissions WHERE idempotency_key = $1 FOR UPDATE`, key)
		switch {
		case err == nil && existing.Stage != StageFailed:
			return &existing, ErrDuplicateSubmission
		case err == nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE order_submissions SET idempotency_key = NULL, updated_at = $2 WHERE id = $1`,
				existing.ID, l.now()); err != nil {
				return nil, err
			}
		case !errors.Is(err, sql.ErrNoRows):
			return nil, err
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

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO order_submissions (id, idempotency_key, stage, amount, created_at, updated_at)
		VALUES (:id, :idempotency_key, :stage, :amount, :created_at, :updated_at)
	`, sub)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			_ = tx.Rollback()
			existing, findErr := l.FindByKey(ctx, key)
			if findErr != nil {
				return nil, findErr
			}
			return existing, ErrDuplicateSubmission
		}
		l.logger.Error("Failed to journal submission", logging.Fields{"error": err.Error()})
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	l.logger.Debug("Submission started", logging.Fields{"submission_id": sub.ID})
	return sub, nil
}

func (l *PostgresLedger) Advance(ctx context.Context, id uuid.UUID, stage Stage, orderID models.ItemID, amount decimal.Decimal) error {
	return l.exec(ctx, id, `
		UPDATE order_submissions
		SET stage = $2, order_id = $3, amount = $4, updated_at = $5
		WHERE id = $1
	`, id, stage, orderID.String(), amount, l.now())
}

func (l *PostgresLedger) Complete(ctx context.Context, id uuid.UUID) error {
	return l.exec(ctx, id, `
		UPDATE order_submissions SET stage = $2, updated_at = $3 WHERE id = $1
	`, id, StageCompleted, l.now())
}

func (l *PostgresLedger) Fail(ctx context.Context, id uuid.UUID, reached Stage, cause error) error {
	return l.exec(ctx, id, `
		UPDATE order_submissions
		SET stage = $2, failed_stage = $3, error = $4, updated_at = $5
		WHERE id = $1
	`, id, StageFailed, reached, errorText(cause), l.now())
}

func (l *PostgresLedger) FindByKey(ctx context.Context, key string) (*Submission, error) {
	var sub Submission
	err := l.db.GetContext(ctx, &sub,
		`SELECT `+submissionColumns+` FROM order_submissions WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (l *PostgresLedger) ListIncomplete(ctx context.Context, olderThan time.Time, limit int) ([]*Submission, error) {
	subs := make([]*Submission, 0)
	err := l.db.SelectContext(ctx, &subs, `
		SELECT `+submissionColumns+`
		FROM order_submissions
		WHERE reconciled_at IS NULL
		  AND order_id <> ''
		  AND (stage = $1 OR (stage <> $2 AND updated_at < $3))
		ORDER BY updated_at
		LIMIT $4
	`, StageFailed, StageCompleted, olderThan, limit)
	if err != nil {
		l.logger.Error("Failed to list incomplete submissions", logging.Fields{"error": err.Error()})
		return nil, err
	}
	return subs, nil
}

func (l *PostgresLedger) MarkReconciled(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	now := l.now()
	return l.exec(ctx, id, `
		UPDATE order_submissions
		SET amount = $2, reconciled_at = $3, updated_at = $3
		WHERE id = $1
	`, id, amount, now)
}

func (l *PostgresLedger) exec(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		l.logger.Error("Ledger update failed", logging.Fields{
			"submission_id": id,
			"error":         err.Error(),
		})
		return err
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
