package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы событий рейтинга доверия
const (
	TrustEventOrderCompleted   = "order_completed"
	TrustEventPositiveReview   = "positive_review"
	TrustEventOnTimeDelivery   = "on_time_delivery"
	TrustEventIdentityVerified = "identity_verified"
	TrustEventLateDelivery     = "late_delivery"
	TrustEventOrderCancelled   = "order_cancelled"
	TrustEventDisputeLost      = "dispute_lost"
	TrustEventFraudDetected    = "fraud_detected"
)

// Уровни доверия (по возрастанию)
const (
	TrustLevelNew      = "new"
	TrustLevelVerified = "verified"
	TrustLevelTrusted  = "trusted"
	TrustLevelTopRated = "top_rated"
	TrustLevelElite    = "elite"
)

// TrustEvent — неизменяемая запись о начислении или списании очков доверия.
// Пара (event_type, related_entity_id) уникальна для субъекта: повторная
// запись того же бизнес-события игнорируется.
type TrustEvent struct {
	ID              uuid.UUID `db:"id" json:"id"`
	SubjectID       uuid.UUID `db:"subject_id" json:"subject_id"`
	EventType       string    `db:"event_type" json:"event_type"`
	Delta           int       `db:"delta" json:"delta"`
	RelatedEntityID uuid.UUID `db:"related_entity_id" json:"related_entity_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// TrustScore — кэшированный текущий счёт субъекта. Всегда восстановим
// как сумма событий, зажатая снизу нулём.
type TrustScore struct {
	SubjectID uuid.UUID `db:"subject_id" json:"subject_id"`
	Score     int       `db:"score" json:"score"`
	Level     string    `db:"level" json:"level"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TrustLevelForScore переводит счёт в дискретный уровень доверия.
func TrustLevelForScore(score int) string {
	switch {
	case score >= 1000:
		return TrustLevelElite
	case score >= 500:
		return TrustLevelTopRated
	case score >= 200:
		return TrustLevelTrusted
	case score >= 50:
		return TrustLevelVerified
	default:
		return TrustLevelNew
	}
}
