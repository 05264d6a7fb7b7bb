package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

var (
	ErrEscrowNotFound = errors.New("escrow not found")
	ErrEscrowExists   = errors.New("escrow already exists for this order")
	// ErrAlreadySettled возвращается при попытке release/refund по уже
	// закрытому балансу — повторное зачисление исключено.
	ErrAlreadySettled = errors.New("escrow already settled")
)

type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// GetByOrderID возвращает escrow по заказу.
func (r *EscrowRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowBalance, error) {
	return common.GetByField[models.EscrowBalance](ctx, r.db, "escrow_balances", "order_id", orderID, ErrEscrowNotFound)
}

// openEscrowTx открывает escrow внутри транзакции подтверждения оплаты.
// Уникальность order_id — страховка от двойного открытия.
func openEscrowTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, amount float64) (*models.EscrowBalance, error) {
	var escrow models.EscrowBalance
	err := tx.GetContext(ctx, &escrow, `
		INSERT INTO escrow_balances (order_id, amount, status)
		VALUES ($1, $2, 'held')
		RETURNING *
	`, orderID, amount)
	if err != nil {
		if common.IsUniqueViolation(err, "") {
			return nil, ErrEscrowExists
		}
		return nil, fmt.Errorf("escrow repository: open %w", err)
	}
	return &escrow, nil
}

// settleEscrowTx закрывает escrow в финальный статус released или refunded.
// Баланс блокируется строкой; допустимые исходные статусы — held и disputed.
func settleEscrowTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, finalStatus string) (*models.EscrowBalance, error) {
	var escrow models.EscrowBalance
	err := tx.GetContext(ctx, &escrow, `
		SELECT * FROM escrow_balances WHERE order_id = $1 FOR UPDATE
	`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("escrow repository: lock %w", err)
	}

	switch escrow.Status {
	case models.EscrowStatusReleased, models.EscrowStatusRefunded:
		return nil, ErrAlreadySettled
	case models.EscrowStatusHeld, models.EscrowStatusDisputed:
		// допустимо
	default:
		return nil, fmt.Errorf("escrow repository: unexpected status %q", escrow.Status)
	}

	err = tx.GetContext(ctx, &escrow, `
		UPDATE escrow_balances SET status = $2, settled_at = NOW()
		WHERE id = $1
		RETURNING *
	`, escrow.ID, finalStatus)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: settle %w", err)
	}
	return &escrow, nil
}

// freezeEscrowTx замораживает escrow при открытии спора.
func freezeEscrowTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE escrow_balances SET status = 'disputed'
		WHERE order_id = $1 AND status = 'held'
	`, orderID)
	if err != nil {
		return fmt.Errorf("escrow repository: freeze %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrEscrowNotFound
	}
	return nil
}
