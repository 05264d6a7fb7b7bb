package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict возвращается, когда переход невозможен из текущего
	// статуса: guard-условие UPDATE не нашло строку в ожидаемом состоянии.
	ErrStatusConflict = errors.New("order status conflict")
	// ErrRevisionLimit возвращается при исчерпании лимита доработок.
	ErrRevisionLimit = errors.New("revision limit reached")
)

type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create создаёт заказ вместе с платёжным намерением в одной транзакции.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order, payment *models.PaymentTransaction) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, order, `
			INSERT INTO orders (client_id, provider_id, listing_id, proposal_id, title,
				gross_amount, platform_fee, provider_earnings, status, deadline_at, max_revisions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending_payment', $9, $10)
			RETURNING *
		`, order.ClientID, order.ProviderID, order.ListingID, order.ProposalID, order.Title,
			order.GrossAmount, order.PlatformFee, order.ProviderEarnings, order.DeadlineAt, order.MaxRevisions)
		if err != nil {
			return fmt.Errorf("order repository: create order %w", err)
		}

		payment.OrderID = order.ID
		err = tx.GetContext(ctx, payment, `
			INSERT INTO payment_transactions (order_id, user_id, tx_ref, amount, status)
			VALUES ($1, $2, $3, $4, 'pending')
			RETURNING *
		`, payment.OrderID, payment.UserID, payment.TxRef, payment.Amount)
		if err != nil {
			return fmt.Errorf("order repository: create payment transaction %w", err)
		}
		return nil
	})
}

// GetByID возвращает заказ по идентификатору.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return common.GetByID[models.Order](ctx, r.db, "orders", id, ErrOrderNotFound)
}

// ListByParticipant возвращает заказы, где пользователь — клиент или
// исполнитель. Пустой status означает «без фильтра».
func (r *OrderRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE (client_id = $1 OR provider_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, userID, status, limit, offset)
	return orders, err
}

// MarkDelivered переводит заказ в delivered из ожидаемого статуса.
// Каждая сдача работы сбрасывает delivered_at — окно автоподтверждения
// начинается заново.
func (r *OrderRepository) MarkDelivered(ctx context.Context, orderID uuid.UUID, expectedStatus, note string, files []string) (*models.Order, error) {
	var order models.Order
	err := r.db.GetContext(ctx, &order, `
		UPDATE orders
		SET status = 'delivered', delivery_note = $3, delivery_files = $4,
			delivered_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`, orderID, expectedStatus, note, pq.Array(files))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("order repository: mark delivered %w", err)
	}
	return &order, nil
}

// RequestRevision увеличивает счётчик доработок и возвращает заказ в работу.
// Guard-условие отклоняет и неверный статус, и превышение лимита.
func (r *OrderRepository) RequestRevision(ctx context.Context, orderID uuid.UUID, note string) (*models.Order, error) {
	var order models.Order
	err := r.db.GetContext(ctx, &order, `
		UPDATE orders
		SET status = 'revision_requested', revision_count = revision_count + 1,
			delivery_note = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'delivered' AND revision_count < max_revisions
		RETURNING *
	`, orderID, note)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Различаем причину отказа для понятной ошибки клиенту
			current, getErr := r.GetByID(ctx, orderID)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status == models.OrderStatusDelivered && current.RevisionCount >= current.MaxRevisions {
				return nil, ErrRevisionLimit
			}
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("order repository: request revision %w", err)
	}
	return &order, nil
}

// Cancel отменяет заказ из ожидаемого статуса. Для оплаченного заказа
// возврат escrow и событие рейтинга выполняются в той же транзакции.
func (r *OrderRepository) Cancel(ctx context.Context, orderID uuid.UUID, expectedStatus string, refundEscrow bool, events []models.TrustEvent) (*models.Order, error) {
	var order models.Order
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &order, `
			UPDATE orders SET status = 'cancelled', updated_at = NOW()
			WHERE id = $1 AND status = $2
			RETURNING *
		`, orderID, expectedStatus)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStatusConflict
			}
			return fmt.Errorf("order repository: cancel %w", err)
		}

		if refundEscrow {
			if _, err := settleEscrowTx(ctx, tx, orderID, models.EscrowStatusRefunded); err != nil {
				return err
			}
		}

		// Отменим и незакрытое платёжное намерение, чтобы поздний webhook
		// не открыл escrow по отменённому заказу.
		if _, err := tx.ExecContext(ctx, `
			UPDATE payment_transactions SET status = 'failed'
			WHERE order_id = $1 AND status = 'pending'
		`, orderID); err != nil {
			return fmt.Errorf("order repository: cancel payment transaction %w", err)
		}

		return applyTrustEventsTx(ctx, tx, events)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SettlementParams — параметры атомарного подтверждения заказа.
type SettlementParams struct {
	OrderID uuid.UUID
	// Review может быть nil (автоподтверждение по таймауту).
	Review *models.Review
	Events []models.TrustEvent
}

// SettleApproval выполняет подтверждение заказа одной транзакцией:
// статус -> completed, освобождение escrow, отзыв, события рейтинга.
// Частичное применение исключено: любая ошибка откатывает всё.
func (r *OrderRepository) SettleApproval(ctx context.Context, p SettlementParams) (*models.Order, *models.EscrowBalance, error) {
	var (
		order  models.Order
		escrow *models.EscrowBalance
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		// Оптимистичный guard: повторное подтверждение не найдёт строку
		// в delivered и завершится конфликтом, а не двойной выплатой.
		err := tx.GetContext(ctx, &order, `
			UPDATE orders SET status = 'completed', updated_at = NOW()
			WHERE id = $1 AND status = 'delivered'
			RETURNING *
		`, p.OrderID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStatusConflict
			}
			return fmt.Errorf("order repository: settle status %w", err)
		}

		escrow, err = settleEscrowTx(ctx, tx, p.OrderID, models.EscrowStatusReleased)
		if err != nil {
			return err
		}

		if p.Review != nil {
			err = tx.GetContext(ctx, p.Review, `
				INSERT INTO reviews (order_id, reviewer_id, reviewed_id, rating, comment)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING *
			`, p.Review.OrderID, p.Review.ReviewerID, p.Review.ReviewedID, p.Review.Rating, p.Review.Comment)
			if err != nil {
				return fmt.Errorf("order repository: settle review %w", err)
			}
		}

		return applyTrustEventsTx(ctx, tx, p.Events)
	})
	if err != nil {
		return nil, nil, err
	}
	return &order, escrow, nil
}

// ListAutoApprovable возвращает заказы в delivered, по которым клиент
// бездействует дольше окна автоподтверждения.
func (r *OrderRepository) ListAutoApprovable(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE status = 'delivered' AND delivered_at < $1
		ORDER BY delivered_at ASC LIMIT $2
	`, cutoff, limit)
	return orders, err
}
