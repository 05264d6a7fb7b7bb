package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// Базовые очки за типы событий. Положительные — за хорошее поведение,
// отрицательные — за срывы.
var trustEventPoints = map[string]int{
	models.TrustEventOrderCompleted:   10,
	models.TrustEventPositiveReview:   5,
	models.TrustEventOnTimeDelivery:   5,
	models.TrustEventIdentityVerified: 15,
	models.TrustEventLateDelivery:     -10,
	models.TrustEventOrderCancelled:   -5,
	models.TrustEventDisputeLost:      -20,
	models.TrustEventFraudDetected:    -40,
}

// Бонус за серию сдач в срок: начиная с пятой подряд.
const (
	onTimeStreakThreshold = 5
	onTimeStreakBonus     = 5
)

// TrustRepository описывает взаимодействие сервиса с журналом событий.
type TrustRepository interface {
	Record(ctx context.Context, event *models.TrustEvent) (bool, *models.TrustScore, error)
	GetScore(ctx context.Context, subjectID uuid.UUID) (*models.TrustScore, error)
	ListEvents(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]models.TrustEvent, error)
	ConsecutiveOnTimeDeliveries(ctx context.Context, subjectID uuid.UUID) (int, error)
}

// TrustService начисляет очки доверия по событиям жизненного цикла заказов.
type TrustService struct {
	repo TrustRepository
}

func NewTrustService(repo TrustRepository) *TrustService {
	return &TrustService{repo: repo}
}

// Delta возвращает базовые очки за тип события.
func Delta(eventType string) (int, error) {
	delta, ok := trustEventPoints[eventType]
	if !ok {
		return 0, fmt.Errorf("неизвестный тип события рейтинга: %s", eventType)
	}
	return delta, nil
}

// Record записывает событие и возвращает пересчитанный счёт.
// Повторная запись того же (eventType, relatedEntityID) безопасна:
// журнал игнорирует дубликат, счёт не меняется.
func (s *TrustService) Record(ctx context.Context, subjectID uuid.UUID, eventType string, relatedEntityID uuid.UUID) (*models.TrustScore, error) {
	event, err := s.buildEvent(ctx, subjectID, eventType, relatedEntityID)
	if err != nil {
		return nil, err
	}

	_, score, err := s.repo.Record(ctx, event)
	if err != nil {
		return nil, err
	}
	return score, nil
}

// GetScore возвращает кэшированный счёт и уровень субъекта.
func (s *TrustService) GetScore(ctx context.Context, subjectID uuid.UUID) (*models.TrustScore, error) {
	return s.repo.GetScore(ctx, subjectID)
}

// ListEvents возвращает журнал событий субъекта.
func (s *TrustService) ListEvents(ctx context.Context, subjectID uuid.UUID, limit, offset int) ([]models.TrustEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListEvents(ctx, subjectID, limit, offset)
}

// SettlementEvents собирает события рейтинга для атомарного подтверждения
// заказа: завершение для обеих сторон, сдача в срок или с опозданием для
// исполнителя, плюс очки за высокий отзыв.
func (s *TrustService) SettlementEvents(ctx context.Context, order *models.Order, rating int) ([]models.TrustEvent, error) {
	events := make([]models.TrustEvent, 0, 4)

	providerCompleted, err := s.buildEvent(ctx, order.ProviderID, models.TrustEventOrderCompleted, order.ID)
	if err != nil {
		return nil, err
	}
	events = append(events, *providerCompleted)

	clientCompleted, err := s.buildEvent(ctx, order.ClientID, models.TrustEventOrderCompleted, order.ID)
	if err != nil {
		return nil, err
	}
	events = append(events, *clientCompleted)

	if order.DeadlineAt != nil && order.DeliveredAt != nil {
		deliveryType := models.TrustEventOnTimeDelivery
		if order.DeliveredAt.After(*order.DeadlineAt) {
			deliveryType = models.TrustEventLateDelivery
		}
		delivery, err := s.buildEvent(ctx, order.ProviderID, deliveryType, order.ID)
		if err != nil {
			return nil, err
		}
		events = append(events, *delivery)
	}

	if rating >= 4 {
		review, err := s.buildEvent(ctx, order.ProviderID, models.TrustEventPositiveReview, order.ID)
		if err != nil {
			return nil, err
		}
		events = append(events, *review)
	}

	return events, nil
}

// CancellationEvent — событие рейтинга для отменённого заказа.
func (s *TrustService) CancellationEvent(ctx context.Context, order *models.Order, cancelledBy uuid.UUID) (*models.TrustEvent, error) {
	return s.buildEvent(ctx, cancelledBy, models.TrustEventOrderCancelled, order.ID)
}

// DisputeLossEvent — событие рейтинга против проигравшей спор стороны.
func (s *TrustService) DisputeLossEvent(ctx context.Context, disputeID, loserID uuid.UUID) (*models.TrustEvent, error) {
	return s.buildEvent(ctx, loserID, models.TrustEventDisputeLost, disputeID)
}

// buildEvent вычисляет дельту события, включая бонус за серию сдач в срок.
func (s *TrustService) buildEvent(ctx context.Context, subjectID uuid.UUID, eventType string, relatedEntityID uuid.UUID) (*models.TrustEvent, error) {
	delta, err := Delta(eventType)
	if err != nil {
		return nil, err
	}

	if eventType == models.TrustEventOnTimeDelivery {
		streak, err := s.repo.ConsecutiveOnTimeDeliveries(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		if streak+1 >= onTimeStreakThreshold {
			delta += onTimeStreakBonus
		}
	}

	return &models.TrustEvent{
		SubjectID:       subjectID,
		EventType:       eventType,
		Delta:           delta,
		RelatedEntityID: relatedEntityID,
	}, nil
}
