package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Статусы escrow
const (
	EscrowStatusHeld     = "held"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
	EscrowStatusDisputed = "disputed"
)

// Статусы платёжных транзакций
const (
	TransactionStatusPending    = "pending"
	TransactionStatusSuccessful = "successful"
	TransactionStatusFailed     = "failed"
)

// EscrowBalance представляет средства, удерживаемые платформой по заказу.
// Создаётся только после подтверждённой оплаты, один к одному с заказом,
// и никогда не удаляется — конечный статус остаётся в истории.
type EscrowBalance struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	OrderID   uuid.UUID  `db:"order_id" json:"order_id"`
	Amount    float64    `db:"amount" json:"amount"`
	Status    string     `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	SettledAt *time.Time `db:"settled_at" json:"settled_at,omitempty"`
}

// PaymentTransaction — намерение оплаты заказа, создаётся вместе с заказом.
// TxRef — внешняя ссылка, по которой шлюз подтверждает оплату.
type PaymentTransaction struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OrderID     uuid.UUID  `db:"order_id" json:"order_id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	TxRef       string     `db:"tx_ref" json:"tx_ref"`
	Amount      float64    `db:"amount" json:"amount"`
	Status      string     `db:"status" json:"status"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// WebhookLog — сырой входящий callback платёжного шлюза.
// Сохраняется всегда, валидный или нет.
type WebhookLog struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Provider  string          `db:"provider" json:"provider"`
	Verified  bool            `db:"verified" json:"verified"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
