package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// OrderRepository описывает взаимодействие сервиса с хранилищем заказов.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order, payment *models.PaymentTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]models.Order, error)
	MarkDelivered(ctx context.Context, orderID uuid.UUID, expectedStatus, note string, files []string) (*models.Order, error)
	RequestRevision(ctx context.Context, orderID uuid.UUID, note string) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, expectedStatus string, refundEscrow bool, events []models.TrustEvent) (*models.Order, error)
	SettleApproval(ctx context.Context, p repository.SettlementParams) (*models.Order, *models.EscrowBalance, error)
	ListAutoApprovable(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// Notifier отправляет уведомление пользователю. Ошибки доставки не
// блокируют основной переход — это best-effort побочный эффект.
type Notifier interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, event string, data interface{}) error
}

// OrderService владеет жизненным циклом заказа и единолично управляет
// операциями escrow через транзакции репозитория.
type OrderService struct {
	repo     OrderRepository
	trust    *TrustService
	notifier Notifier

	feePercent          float64
	maxRevisionsDefault int
	autoApproveAfter    time.Duration
}

func NewOrderService(repo OrderRepository, trust *TrustService, feePercent float64, maxRevisionsDefault int, autoApproveAfter time.Duration) *OrderService {
	return &OrderService{
		repo:                repo,
		trust:               trust,
		feePercent:          feePercent,
		maxRevisionsDefault: maxRevisionsDefault,
		autoApproveAfter:    autoApproveAfter,
	}
}

// SetNotifier подключает канал уведомлений.
func (s *OrderService) SetNotifier(n Notifier) {
	s.notifier = n
}

// CreateOrderInput — параметры создания заказа.
type CreateOrderInput struct {
	ClientID     uuid.UUID
	ProviderID   uuid.UUID
	ListingID    *uuid.UUID
	ProposalID   *uuid.UUID
	Title        string
	GrossAmount  float64
	DeadlineAt   *time.Time
	MaxRevisions *int
}

// SettlementSummary — итог атомарного подтверждения заказа.
type SettlementSummary struct {
	Order  *models.Order        `json:"order"`
	Escrow *models.EscrowBalance `json:"escrow"`
	Review *models.Review       `json:"review,omitempty"`
}

// CreateOrder создаёт заказ в pending_payment вместе с платёжным намерением.
// Комиссия платформы и заработок исполнителя в сумме дают полную стоимость.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, *models.PaymentTransaction, error) {
	if in.Title == "" {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "название заказа обязательно")
	}
	if in.GrossAmount <= 0 {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "сумма заказа должна быть положительной")
	}
	if in.ClientID == in.ProviderID {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "клиент и исполнитель не могут совпадать")
	}

	maxRevisions := s.maxRevisionsDefault
	if in.MaxRevisions != nil {
		if *in.MaxRevisions < 0 {
			return nil, nil, apperror.New(apperror.ErrCodeValidation, "лимит доработок не может быть отрицательным")
		}
		maxRevisions = *in.MaxRevisions
	}

	fee := round2(in.GrossAmount * s.feePercent / 100)
	order := &models.Order{
		ClientID:         in.ClientID,
		ProviderID:       in.ProviderID,
		ListingID:        in.ListingID,
		ProposalID:       in.ProposalID,
		Title:            in.Title,
		GrossAmount:      in.GrossAmount,
		PlatformFee:      fee,
		ProviderEarnings: round2(in.GrossAmount - fee),
		DeadlineAt:       in.DeadlineAt,
		MaxRevisions:     maxRevisions,
	}

	payment := &models.PaymentTransaction{
		UserID: in.ClientID,
		TxRef:  fmt.Sprintf("TX-%s", uuid.NewString()),
		Amount: in.GrossAmount,
	}

	if err := s.repo.Create(ctx, order, payment); err != nil {
		return nil, nil, err
	}
	return order, payment, nil
}

// GetOrder возвращает заказ участнику сделки.
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	return order, nil
}

// ListMyOrders возвращает заказы пользователя, опционально по статусу.
func (s *OrderService) ListMyOrders(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]models.Order, error) {
	if status != "" {
		if _, ok := models.ValidOrderStatuses[status]; !ok {
			return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный статус заказа")
		}
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByParticipant(ctx, userID, status, limit, offset)
}

// Deliver фиксирует сдачу работы исполнителем.
func (s *OrderService) Deliver(ctx context.Context, orderID, providerID uuid.UUID, note string, files []string) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ProviderID != providerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "сдать работу может только исполнитель заказа")
	}
	if order.Status != models.OrderStatusAwaitingDelivery && order.Status != models.OrderStatusRevisionRequested {
		return nil, apperror.StateConflict("сдать работу можно только по заказу в работе", order.Status)
	}

	// Сдача без файлов допустима; nil сериализуется в NULL и нарушает
	// NOT NULL на delivery_files.
	if files == nil {
		files = []string{}
	}

	updated, err := s.repo.MarkDelivered(ctx, orderID, order.Status, note, files)
	if err != nil {
		return nil, s.mapConflict(ctx, orderID, err)
	}

	s.notify(ctx, updated.ClientID, "order.delivered", updated)
	return updated, nil
}

// Approve атомарно подтверждает заказ: статус completed, освобождение
// escrow, отзыв и события рейтинга применяются одной транзакцией.
func (s *OrderService) Approve(ctx context.Context, orderID, clientID uuid.UUID, rating int, comment *string) (*SettlementSummary, error) {
	// Валидация до чтения состояния
	if rating < 1 || rating > 5 {
		return nil, apperror.New(apperror.ErrCodeValidation, "рейтинг должен быть от 1 до 5")
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != clientID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "подтвердить заказ может только клиент")
	}
	if order.Status != models.OrderStatusDelivered {
		return nil, apperror.StateConflict("подтвердить можно только сданный заказ", order.Status)
	}

	events, err := s.trust.SettlementEvents(ctx, order, rating)
	if err != nil {
		return nil, err
	}

	review := &models.Review{
		OrderID:    order.ID,
		ReviewerID: clientID,
		ReviewedID: order.ProviderID,
		Rating:     rating,
		Comment:    comment,
	}

	settled, escrow, err := s.repo.SettleApproval(ctx, repository.SettlementParams{
		OrderID: orderID,
		Review:  review,
		Events:  events,
	})
	if err != nil {
		return nil, s.mapConflict(ctx, orderID, err)
	}

	s.notify(ctx, settled.ProviderID, "order.completed", settled)
	return &SettlementSummary{Order: settled, Escrow: escrow, Review: review}, nil
}

// RequestRevision возвращает сданный заказ на доработку в пределах лимита.
func (s *OrderService) RequestRevision(ctx context.Context, orderID, clientID uuid.UUID, note string) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != clientID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "запросить доработку может только клиент")
	}
	if order.Status != models.OrderStatusDelivered {
		return nil, apperror.StateConflict("доработку можно запросить только по сданному заказу", order.Status)
	}
	if order.RevisionCount >= order.MaxRevisions {
		return nil, apperror.StateConflict("лимит доработок исчерпан", order.Status)
	}

	updated, err := s.repo.RequestRevision(ctx, orderID, note)
	if err != nil {
		if err == repository.ErrRevisionLimit {
			return nil, apperror.StateConflict("лимит доработок исчерпан", order.Status)
		}
		return nil, s.mapConflict(ctx, orderID, err)
	}

	s.notify(ctx, updated.ProviderID, "order.revision_requested", updated)
	return updated, nil
}

// Cancel отменяет заказ до сдачи работы. Для оплаченного заказа escrow
// возвращается клиенту в той же транзакции.
func (s *OrderService) Cancel(ctx context.Context, orderID, clientID uuid.UUID) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != clientID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "отменить заказ может только клиент")
	}
	if order.Status != models.OrderStatusPendingPayment && order.Status != models.OrderStatusAwaitingDelivery {
		return nil, apperror.StateConflict("отменить можно только неоплаченный заказ или заказ до сдачи работы", order.Status)
	}

	refundEscrow := order.Status == models.OrderStatusAwaitingDelivery

	var events []models.TrustEvent
	if refundEscrow {
		// Отмена после оплаты, когда исполнитель мог начать работу
		event, err := s.trust.CancellationEvent(ctx, order, clientID)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}

	updated, err := s.repo.Cancel(ctx, orderID, order.Status, refundEscrow, events)
	if err != nil {
		return nil, s.mapConflict(ctx, orderID, err)
	}

	s.notify(ctx, updated.ProviderID, "order.cancelled", updated)
	return updated, nil
}

// AutoApproveExpired подтверждает сданные заказы, по которым клиент
// бездействует дольше окна автоподтверждения. Возвращает число
// обработанных заказов.
func (s *OrderService) AutoApproveExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.autoApproveAfter)
	orders, err := s.repo.ListAutoApprovable(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}

	settledCount := 0
	for i := range orders {
		order := &orders[i]
		events, err := s.trust.SettlementEvents(ctx, order, 0)
		if err != nil {
			logger.WithComponent("order_service").WithError(err).
				WithField("order_id", order.ID).Error("автоподтверждение: не удалось собрать события рейтинга")
			continue
		}

		settled, _, err := s.repo.SettleApproval(ctx, repository.SettlementParams{
			OrderID: order.ID,
			Events:  events,
		})
		if err != nil {
			// Конфликт означает, что заказ успел поменять статус — пропускаем
			logger.WithComponent("order_service").WithError(err).
				WithField("order_id", order.ID).Warn("автоподтверждение: заказ пропущен")
			continue
		}

		settledCount++
		s.notify(ctx, settled.ProviderID, "order.auto_completed", settled)
		s.notify(ctx, settled.ClientID, "order.auto_completed", settled)
	}
	return settledCount, nil
}

// getOrder загружает заказ, преобразуя отсутствие в apperror.
func (s *OrderService) getOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if err == repository.ErrOrderNotFound {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// mapConflict превращает гонку статусов в state-conflict с актуальным
// статусом, чтобы клиент мог ресинхронизироваться.
func (s *OrderService) mapConflict(ctx context.Context, orderID uuid.UUID, err error) error {
	if err != repository.ErrStatusConflict {
		return err
	}
	current, getErr := s.repo.GetByID(ctx, orderID)
	if getErr != nil {
		return apperror.StateConflict("заказ изменён параллельной операцией", "")
	}
	return apperror.StateConflict("заказ изменён параллельной операцией", current.Status)
}

// notify отправляет уведомление, ошибки только логируются.
func (s *OrderService) notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyUser(ctx, userID, event, data); err != nil {
		logger.WithComponent("order_service").WithError(err).
			WithField("event", event).Warn("не удалось отправить уведомление")
	}
}

// round2 округляет сумму до копеек.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
