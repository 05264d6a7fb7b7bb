package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	// ErrDisputeAlreadyExists — по заказу уже есть открытый спор.
	// Гонка check-then-act закрыта частичным уникальным индексом.
	ErrDisputeAlreadyExists = errors.New("open dispute already exists for this order")
	ErrDisputeNotOpen       = errors.New("dispute is not open")
)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Raise открывает спор одной транзакцией: вставка спора, заказ -> disputed,
// заморозка escrow. Откат любой части отменяет всё.
func (r *DisputeRepository) Raise(ctx context.Context, dispute *models.Dispute, expectedOrderStatus string) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, dispute, `
			INSERT INTO disputes (order_id, raiser_id, respondent_id, reason, description, evidence, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'open')
			RETURNING *
		`, dispute.OrderID, dispute.RaiserID, dispute.RespondentID,
			dispute.Reason, dispute.Description, pq.Array([]string(dispute.Evidence)))
		if err != nil {
			if common.IsUniqueViolation(err, "uniq_open_dispute_per_order") {
				return ErrDisputeAlreadyExists
			}
			return fmt.Errorf("dispute repository: create %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = 'disputed', updated_at = NOW()
			WHERE id = $1 AND status = $2
		`, dispute.OrderID, expectedOrderStatus)
		if err != nil {
			return fmt.Errorf("dispute repository: transition order %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrStatusConflict
		}

		return freezeEscrowTx(ctx, tx, dispute.OrderID)
	})
}

// ResolutionParams — параметры арбитражного решения по спору.
type ResolutionParams struct {
	DisputeID  uuid.UUID
	ResolvedBy uuid.UUID
	// FinalStatus — resolved_for_raiser или resolved_for_respondent.
	FinalStatus string
	// EscrowOutcome — released (в пользу исполнителя) или refunded (клиенту).
	EscrowOutcome string
	// OrderOutcome — completed или refunded, согласован с EscrowOutcome.
	OrderOutcome string
	Events       []models.TrustEvent
}

// Resolve закрывает спор одной транзакцией: конечный статус спора,
// закрытие escrow, конечный статус заказа, события рейтинга.
func (r *DisputeRepository) Resolve(ctx context.Context, p ResolutionParams) (*models.Dispute, error) {
	var dispute models.Dispute
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &dispute, `
			SELECT * FROM disputes WHERE id = $1 FOR UPDATE
		`, p.DisputeID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrDisputeNotFound
			}
			return fmt.Errorf("dispute repository: lock %w", err)
		}
		if dispute.Status != models.DisputeStatusOpen {
			return ErrDisputeNotOpen
		}

		err = tx.GetContext(ctx, &dispute, `
			UPDATE disputes SET status = $2, resolved_by = $3, resolved_at = NOW()
			WHERE id = $1
			RETURNING *
		`, p.DisputeID, p.FinalStatus, p.ResolvedBy)
		if err != nil {
			return fmt.Errorf("dispute repository: resolve %w", err)
		}

		if _, err := settleEscrowTx(ctx, tx, dispute.OrderID, p.EscrowOutcome); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'disputed'
		`, dispute.OrderID, p.OrderOutcome)
		if err != nil {
			return fmt.Errorf("dispute repository: transition order %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrStatusConflict
		}

		return applyTrustEventsTx(ctx, tx, p.Events)
	})
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

// GetByID возвращает спор по идентификатору.
func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, ErrDisputeNotFound)
}

// GetOpenByOrderID возвращает открытый спор по заказу.
func (r *DisputeRepository) GetOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.GetContext(ctx, &dispute, `
		SELECT * FROM disputes WHERE order_id = $1 AND status = 'open'
	`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("dispute repository: get open %w", err)
	}
	return &dispute, nil
}

// ListByUser возвращает споры, где пользователь — сторона.
func (r *DisputeRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT * FROM disputes
		WHERE raiser_id = $1 OR respondent_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return disputes, err
}
