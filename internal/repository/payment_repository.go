package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

var (
	ErrTransactionNotFound = errors.New("payment transaction not found")
	// ErrAmountMismatch — заявленная шлюзом сумма не равна ожидаемой.
	ErrAmountMismatch = errors.New("payment amount mismatch")
)

type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// ConfirmResult — итог обработки подтверждения оплаты.
type ConfirmResult struct {
	AlreadyProcessed bool
	Transaction      *models.PaymentTransaction
	Order            *models.Order
	Escrow           *models.EscrowBalance
}

// ConfirmPayment обрабатывает подтверждение оплаты по tx_ref одной
// транзакцией: транзакция -> successful, открытие escrow, заказ ->
// awaiting_delivery. Повтор того же webhook находит транзакцию уже в
// successful и завершается без побочных эффектов.
func (r *PaymentRepository) ConfirmPayment(ctx context.Context, txRef string, amount float64) (*ConfirmResult, error) {
	result := &ConfirmResult{}
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var pt models.PaymentTransaction
		err := tx.GetContext(ctx, &pt, `
			SELECT * FROM payment_transactions WHERE tx_ref = $1 FOR UPDATE
		`, txRef)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTransactionNotFound
			}
			return fmt.Errorf("payment repository: lock transaction %w", err)
		}

		if pt.Status == models.TransactionStatusSuccessful {
			result.AlreadyProcessed = true
			result.Transaction = &pt
			return nil
		}

		// Несовпадение суммы — сигнал о возможном мошенничестве,
		// обработка прерывается до любых изменений состояния.
		if pt.Amount != amount {
			return ErrAmountMismatch
		}

		err = tx.GetContext(ctx, &pt, `
			UPDATE payment_transactions SET status = 'successful', completed_at = NOW()
			WHERE id = $1
			RETURNING *
		`, pt.ID)
		if err != nil {
			return fmt.Errorf("payment repository: mark successful %w", err)
		}
		result.Transaction = &pt

		escrow, err := openEscrowTx(ctx, tx, pt.OrderID, pt.Amount)
		if err != nil {
			return err
		}
		result.Escrow = escrow

		var order models.Order
		err = tx.GetContext(ctx, &order, `
			UPDATE orders SET status = 'awaiting_delivery', updated_at = NOW()
			WHERE id = $1 AND status = 'pending_payment'
			RETURNING *
		`, pt.OrderID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStatusConflict
			}
			return fmt.Errorf("payment repository: transition order %w", err)
		}
		result.Order = &order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetTransactionByOrderID возвращает платёжное намерение заказа.
func (r *PaymentRepository) GetTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error) {
	return common.GetByField[models.PaymentTransaction](ctx, r.db, "payment_transactions", "order_id", orderID, ErrTransactionNotFound)
}

// GetTransactionByRef возвращает платёжное намерение по внешней ссылке.
func (r *PaymentRepository) GetTransactionByRef(ctx context.Context, txRef string) (*models.PaymentTransaction, error) {
	return common.GetByField[models.PaymentTransaction](ctx, r.db, "payment_transactions", "tx_ref", txRef, ErrTransactionNotFound)
}

// SaveWebhookLog сохраняет сырой входящий callback для аудита.
// Вызывается для каждого payload, валидного или нет.
func (r *PaymentRepository) SaveWebhookLog(ctx context.Context, provider string, verified bool, payload json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_logs (provider, verified, payload)
		VALUES ($1, $2, $3)
	`, provider, verified, payload)
	if err != nil {
		return fmt.Errorf("payment repository: save webhook log %w", err)
	}
	return nil
}
