package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// DisputeRepository описывает взаимодействие сервиса с хранилищем споров.
type DisputeRepository interface {
	Raise(ctx context.Context, dispute *models.Dispute, expectedOrderStatus string) error
	Resolve(ctx context.Context, p repository.ResolutionParams) (*models.Dispute, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error)
}

// DisputeService управляет спорами: открытие замораживает escrow,
// арбитражное решение закрывает заказ в пользу одной из сторон.
type DisputeService struct {
	repo     DisputeRepository
	orders   OrderRepository
	trust    *TrustService
	notifier Notifier
}

func NewDisputeService(repo DisputeRepository, orders OrderRepository, trust *TrustService) *DisputeService {
	return &DisputeService{repo: repo, orders: orders, trust: trust}
}

// SetNotifier подключает канал уведомлений.
func (s *DisputeService) SetNotifier(n Notifier) {
	s.notifier = n
}

// RaiseDisputeInput — параметры открытия спора.
type RaiseDisputeInput struct {
	OrderID     uuid.UUID
	RaiserID    uuid.UUID
	Reason      string
	Description string
	Evidence    []string
}

// RaiseDispute открывает спор по заказу. Респондент всегда вычисляется
// как вторая сторона заказа. По заказу может быть только один открытый
// спор — повторная попытка отклоняется.
func (s *DisputeService) RaiseDispute(ctx context.Context, in RaiseDisputeInput) (*models.Dispute, error) {
	if in.Reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина спора обязательна")
	}

	order, err := s.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		if err == repository.ErrOrderNotFound {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, err
	}
	if !order.IsParticipant(in.RaiserID) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "открыть спор может только сторона заказа")
	}
	if !models.IsDisputableOrderStatus(order.Status) {
		return nil, apperror.StateConflict("спор нельзя открыть по заказу в этом статусе", order.Status)
	}

	dispute := &models.Dispute{
		OrderID:      in.OrderID,
		RaiserID:     in.RaiserID,
		RespondentID: order.CounterpartyOf(in.RaiserID),
		Reason:       in.Reason,
		Description:  in.Description,
		Evidence:     in.Evidence,
	}

	if err := s.repo.Raise(ctx, dispute, order.Status); err != nil {
		switch err {
		case repository.ErrDisputeAlreadyExists:
			return nil, apperror.New(apperror.ErrCodeConflict, "по заказу уже открыт спор")
		case repository.ErrStatusConflict:
			current, getErr := s.orders.GetByID(ctx, in.OrderID)
			if getErr != nil {
				return nil, apperror.StateConflict("заказ изменён параллельной операцией", "")
			}
			return nil, apperror.StateConflict("заказ изменён параллельной операцией", current.Status)
		}
		return nil, err
	}

	s.notify(ctx, dispute.RespondentID, "dispute.raised", dispute)
	return dispute, nil
}

// ResolveDisputeInput — параметры арбитражного решения.
type ResolveDisputeInput struct {
	DisputeID  uuid.UUID
	ResolvedBy uuid.UUID
	// InFavorOfRaiser — решение в пользу открывшей спор стороны.
	InFavorOfRaiser bool
}

// ResolveDispute закрывает спор решением арбитра. Если выигрывает клиент,
// escrow возвращается и заказ становится refunded; если исполнитель —
// средства освобождаются и заказ завершается. Проигравший получает
// штрафное событие рейтинга в той же транзакции.
func (s *DisputeService) ResolveDispute(ctx context.Context, in ResolveDisputeInput) (*models.Dispute, error) {
	dispute, err := s.repo.GetByID(ctx, in.DisputeID)
	if err != nil {
		if err == repository.ErrDisputeNotFound {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}
	if dispute.Status != models.DisputeStatusOpen {
		return nil, apperror.StateConflict("спор уже закрыт", dispute.Status)
	}

	order, err := s.orders.GetByID(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}

	finalStatus := models.DisputeStatusResolvedForRespondent
	if in.InFavorOfRaiser {
		finalStatus = models.DisputeStatusResolvedForRaiser
	}
	dispute.Status = finalStatus
	loserID := dispute.LoserID()
	winnerID := dispute.RaiserID
	if winnerID == loserID {
		winnerID = dispute.RespondentID
	}

	// Судьба escrow определяется ролью победителя в заказе
	escrowOutcome := models.EscrowStatusReleased
	orderOutcome := models.OrderStatusCompleted
	if winnerID == order.ClientID {
		escrowOutcome = models.EscrowStatusRefunded
		orderOutcome = models.OrderStatusRefunded
	}

	lossEvent, err := s.trust.DisputeLossEvent(ctx, dispute.ID, loserID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.repo.Resolve(ctx, repository.ResolutionParams{
		DisputeID:     in.DisputeID,
		ResolvedBy:    in.ResolvedBy,
		FinalStatus:   finalStatus,
		EscrowOutcome: escrowOutcome,
		OrderOutcome:  orderOutcome,
		Events:        []models.TrustEvent{*lossEvent},
	})
	if err != nil {
		if err == repository.ErrDisputeNotOpen {
			return nil, apperror.StateConflict("спор уже закрыт", "")
		}
		return nil, err
	}

	s.notify(ctx, resolved.RaiserID, "dispute.resolved", resolved)
	s.notify(ctx, resolved.RespondentID, "dispute.resolved", resolved)
	return resolved, nil
}

// GetDispute возвращает спор его стороне.
func (s *DisputeService) GetDispute(ctx context.Context, disputeID, userID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		if err == repository.ErrDisputeNotFound {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}
	if userID != dispute.RaiserID && userID != dispute.RespondentID {
		return nil, apperror.ErrForbidden
	}
	return dispute, nil
}

// GetOrderDispute возвращает открытый спор по заказу его стороне.
func (s *DisputeService) GetOrderDispute(ctx context.Context, orderID, userID uuid.UUID) (*models.Dispute, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if err == repository.ErrOrderNotFound {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, err
	}
	if !order.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}

	dispute, err := s.repo.GetOpenByOrderID(ctx, orderID)
	if err != nil {
		if err == repository.ErrDisputeNotFound {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}
	return dispute, nil
}

// ListMyDisputes возвращает споры пользователя.
func (s *DisputeService) ListMyDisputes(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *DisputeService) notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyUser(ctx, userID, event, data); err != nil {
		logger.WithComponent("dispute_service").WithError(err).
			WithField("event", event).Warn("не удалось отправить уведомление")
	}
}
