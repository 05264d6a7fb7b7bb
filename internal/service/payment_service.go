package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// PaymentRepository описывает взаимодействие сервиса с платёжным хранилищем.
type PaymentRepository interface {
	ConfirmPayment(ctx context.Context, txRef string, amount float64) (*repository.ConfirmResult, error)
	GetTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error)
	GetTransactionByRef(ctx context.Context, txRef string) (*models.PaymentTransaction, error)
	SaveWebhookLog(ctx context.Context, provider string, verified bool, payload json.RawMessage) error
}

// WebhookPayload — callback платёжного шлюза.
type WebhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID     int64   `json:"id"`
		TxRef  string  `json:"tx_ref"`
		Amount float64 `json:"amount"`
		Status string  `json:"status"`
	} `json:"data"`
}

// WebhookResult — итог обработки webhook.
type WebhookResult struct {
	AlreadyProcessed bool          `json:"already_processed"`
	Ignored          bool          `json:"ignored"`
	Order            *models.Order `json:"order,omitempty"`
}

// PaymentService принимает callbacks платёжного шлюза и превращает
// подтверждённую оплату в открытый escrow.
type PaymentService struct {
	repo     PaymentRepository
	orders   OrderRepository
	trust    *TrustService
	notifier Notifier

	provider      string
	webhookSecret string
}

func NewPaymentService(repo PaymentRepository, orders OrderRepository, trust *TrustService, provider, webhookSecret string) *PaymentService {
	return &PaymentService{
		repo:          repo,
		orders:        orders,
		trust:         trust,
		provider:      provider,
		webhookSecret: webhookSecret,
	}
}

// SetNotifier подключает канал уведомлений.
func (s *PaymentService) SetNotifier(n Notifier) {
	s.notifier = n
}

// VerifySignature сравнивает подпись webhook с секретом за постоянное
// время, чтобы не утекала длина совпавшего префикса.
func (s *PaymentService) VerifySignature(signature string) bool {
	if s.webhookSecret == "" || signature == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(s.webhookSecret)) == 1
}

// HandleWebhook обрабатывает callback шлюза. Каждый payload сохраняется
// в журнал аудита до какой-либо обработки, включая неподписанные.
// Повторная доставка того же события безопасна.
func (s *PaymentService) HandleWebhook(ctx context.Context, signature string, payload json.RawMessage) (*WebhookResult, error) {
	verified := s.VerifySignature(signature)

	if err := s.repo.SaveWebhookLog(ctx, s.provider, verified, payload); err != nil {
		// Аудит не должен терять события, но и не блокирует обработку
		logger.WithComponent("payment_service").WithError(err).Error("не удалось сохранить webhook в журнал")
	}

	if !verified {
		return nil, apperror.New(apperror.ErrCodeUnauthorized, "неверная подпись webhook")
	}

	var wh WebhookPayload
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeBadRequest, "некорректный payload webhook")
	}
	if wh.Data.TxRef == "" {
		return nil, apperror.New(apperror.ErrCodeBadRequest, "webhook без tx_ref")
	}

	// Интересует только успешное завершение оплаты; остальные события
	// подтверждаем без обработки, чтобы шлюз не повторял доставку.
	if wh.Event != "charge.completed" || wh.Data.Status != "successful" {
		return &WebhookResult{Ignored: true}, nil
	}

	result, err := s.repo.ConfirmPayment(ctx, wh.Data.TxRef, wh.Data.Amount)
	if err != nil {
		switch err {
		case repository.ErrTransactionNotFound:
			// Неизвестная ссылка: возможно чужое окружение или устаревший
			// callback. Подтверждаем получение, не обрабатывая.
			logger.WithComponent("payment_service").
				WithField("tx_ref", wh.Data.TxRef).Warn("webhook с неизвестной ссылкой транзакции")
			return &WebhookResult{Ignored: true}, nil
		case repository.ErrStatusConflict:
			// Заказ успел выйти из pending_payment (например, отменён).
			// Подтверждаем получение, иначе шлюз будет повторять доставку.
			logger.WithComponent("payment_service").
				WithField("tx_ref", wh.Data.TxRef).Warn("webhook по заказу вне ожидания оплаты")
			return &WebhookResult{Ignored: true}, nil
		case repository.ErrAmountMismatch:
			s.flagAmountMismatch(ctx, wh.Data.TxRef)
			return nil, apperror.New(apperror.ErrCodeBadRequest, "сумма оплаты не совпадает с суммой заказа")
		}
		return nil, err
	}

	if result.AlreadyProcessed {
		return &WebhookResult{AlreadyProcessed: true}, nil
	}

	s.notify(ctx, result.Order.ClientID, "payment.confirmed", result.Order)
	s.notify(ctx, result.Order.ProviderID, "order.paid", result.Order)
	return &WebhookResult{Order: result.Order}, nil
}

// GetIntent возвращает платёжное намерение заказа его клиенту.
func (s *PaymentService) GetIntent(ctx context.Context, orderID, userID uuid.UUID) (*models.PaymentTransaction, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if err == repository.ErrOrderNotFound {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, err
	}
	if order.ClientID != userID {
		return nil, apperror.ErrForbidden
	}

	pt, err := s.repo.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		if err == repository.ErrTransactionNotFound {
			return nil, apperror.New(apperror.ErrCodeNotFound, "платёжная транзакция не найдена")
		}
		return nil, err
	}
	return pt, nil
}

// flagAmountMismatch отмечает плательщика событием о возможном
// мошенничестве: подписанный webhook с чужой суммой не бывает случайным.
func (s *PaymentService) flagAmountMismatch(ctx context.Context, txRef string) {
	pt, err := s.repo.GetTransactionByRef(ctx, txRef)
	if err != nil {
		logger.WithComponent("payment_service").WithError(err).
			WithField("tx_ref", txRef).Error("несовпадение суммы: транзакция не найдена")
		return
	}
	if _, err := s.trust.Record(ctx, pt.UserID, models.TrustEventFraudDetected, pt.OrderID); err != nil {
		logger.WithComponent("payment_service").WithError(err).
			WithField("tx_ref", txRef).Error("несовпадение суммы: не удалось записать событие рейтинга")
	}
}

func (s *PaymentService) notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyUser(ctx, userID, event, data); err != nil {
		logger.WithComponent("payment_service").WithError(err).
			WithField("event", event).Warn("не удалось отправить уведомление")
	}
}
