package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Order описывает сделку между клиентом и исполнителем.
// Заказы никогда не удаляются: конечный статус — это исторический факт.
type Order struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	ClientID         uuid.UUID      `db:"client_id" json:"client_id"`
	ProviderID       uuid.UUID      `db:"provider_id" json:"provider_id"`
	ListingID        *uuid.UUID     `db:"listing_id" json:"listing_id,omitempty"`
	ProposalID       *uuid.UUID     `db:"proposal_id" json:"proposal_id,omitempty"`
	Title            string         `db:"title" json:"title"`
	GrossAmount      float64        `db:"gross_amount" json:"gross_amount"`
	PlatformFee      float64        `db:"platform_fee" json:"platform_fee"`
	ProviderEarnings float64        `db:"provider_earnings" json:"provider_earnings"`
	Status           string         `db:"status" json:"status"`
	DeadlineAt       *time.Time     `db:"deadline_at" json:"deadline_at,omitempty"`
	MaxRevisions     int            `db:"max_revisions" json:"max_revisions"`
	RevisionCount    int            `db:"revision_count" json:"revision_count"`
	DeliveryNote     *string        `db:"delivery_note" json:"delivery_note,omitempty"`
	DeliveryFiles    pq.StringArray `db:"delivery_files" json:"delivery_files,omitempty"`
	DeliveredAt      *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// CounterpartyOf возвращает "другую сторону" заказа для участника.
// Для не-участника возвращает uuid.Nil.
func (o *Order) CounterpartyOf(userID uuid.UUID) uuid.UUID {
	switch userID {
	case o.ClientID:
		return o.ProviderID
	case o.ProviderID:
		return o.ClientID
	}
	return uuid.Nil
}

// IsParticipant проверяет, является ли пользователь стороной заказа.
func (o *Order) IsParticipant(userID uuid.UUID) bool {
	return userID == o.ClientID || userID == o.ProviderID
}
