package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	DisputeStatusOpen                  = "open"
	DisputeStatusResolvedForRaiser     = "resolved_for_raiser"
	DisputeStatusResolvedForRespondent = "resolved_for_respondent"
)

// Dispute — спор по заказу. Респондент всегда вычисляется как вторая
// сторона заказа и никогда не принимается от клиента.
type Dispute struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	OrderID      uuid.UUID      `db:"order_id" json:"order_id"`
	RaiserID     uuid.UUID      `db:"raiser_id" json:"raiser_id"`
	RespondentID uuid.UUID      `db:"respondent_id" json:"respondent_id"`
	Reason       string         `db:"reason" json:"reason"`
	Description  string         `db:"description" json:"description"`
	Evidence     pq.StringArray `db:"evidence" json:"evidence,omitempty"`
	Status       string         `db:"status" json:"status"`
	ResolvedBy   *uuid.UUID     `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	ResolvedAt   *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
}

// LoserID возвращает проигравшую сторону для конечного статуса спора.
func (d *Dispute) LoserID() uuid.UUID {
	switch d.Status {
	case DisputeStatusResolvedForRaiser:
		return d.RespondentID
	case DisputeStatusResolvedForRespondent:
		return d.RaiserID
	}
	return uuid.Nil
}
