package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

type mockPaymentRepo struct {
	mock.Mock
}

func (m *mockPaymentRepo) ConfirmPayment(ctx context.Context, txRef string, amount float64) (*repository.ConfirmResult, error) {
	args := m.Called(ctx, txRef, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ConfirmResult), args.Error(1)
}

func (m *mockPaymentRepo) GetTransactionByOrderID(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentTransaction), args.Error(1)
}

func (m *mockPaymentRepo) GetTransactionByRef(ctx context.Context, txRef string) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, txRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentTransaction), args.Error(1)
}

func (m *mockPaymentRepo) SaveWebhookLog(ctx context.Context, provider string, verified bool, payload json.RawMessage) error {
	args := m.Called(ctx, provider, verified, payload)
	return args.Error(0)
}

const testWebhookSecret = "test-webhook-secret"

func newPaymentService(repo *mockPaymentRepo, orders *mockOrderRepo, trustRepo *mockTrustRepo) *PaymentService {
	return NewPaymentService(repo, orders, NewTrustService(trustRepo), "flutterwave", testWebhookSecret)
}

func webhookBody(t *testing.T, txRef string, amount float64, event, status string) json.RawMessage {
	t.Helper()
	payload := map[string]interface{}{
		"event": event,
		"data": map[string]interface{}{
			"id":     12345,
			"tx_ref": txRef,
			"amount": amount,
			"status": status,
		},
	}
	raw, err := json.Marshal(payload)
	assert.NoError(t, err)
	return raw
}

func TestPaymentService_VerifySignature(t *testing.T) {
	svc := newPaymentService(new(mockPaymentRepo), new(mockOrderRepo), new(mockTrustRepo))

	assert.True(t, svc.VerifySignature(testWebhookSecret))
	assert.False(t, svc.VerifySignature("wrong-secret"))
	assert.False(t, svc.VerifySignature(""))
}

func TestPaymentService_HandleWebhook_Success(t *testing.T) {
	repo := new(mockPaymentRepo)
	notifier := new(mockNotifier)
	svc := newPaymentService(repo, new(mockOrderRepo), new(mockTrustRepo))
	svc.SetNotifier(notifier)
	ctx := context.Background()

	order := &models.Order{
		ID: uuid.New(), ClientID: uuid.New(), ProviderID: uuid.New(),
		Status: models.OrderStatusAwaitingDelivery,
	}
	body := webhookBody(t, "TX-1", 100, "charge.completed", "successful")

	repo.On("SaveWebhookLog", ctx, "flutterwave", true, body).Return(nil)
	repo.On("ConfirmPayment", ctx, "TX-1", 100.0).Return(&repository.ConfirmResult{
		Order:  order,
		Escrow: &models.EscrowBalance{OrderID: order.ID, Amount: 100, Status: models.EscrowStatusHeld},
	}, nil)
	notifier.On("NotifyUser", ctx, order.ClientID, "payment.confirmed", order).Return(nil)
	notifier.On("NotifyUser", ctx, order.ProviderID, "order.paid", order).Return(nil)

	result, err := svc.HandleWebhook(ctx, testWebhookSecret, body)

	assert.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, models.OrderStatusAwaitingDelivery, result.Order.Status)
	repo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestPaymentService_HandleWebhook_BadSignatureStillLogged(t *testing.T) {
	repo := new(mockPaymentRepo)
	svc := newPaymentService(repo, new(mockOrderRepo), new(mockTrustRepo))
	ctx := context.Background()

	body := webhookBody(t, "TX-1", 100, "charge.completed", "successful")
	repo.On("SaveWebhookLog", ctx, "flutterwave", false, body).Return(nil)

	_, err := svc.HandleWebhook(ctx, "forged", body)

	assert.Error(t, err)
	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeUnauthorized, appErr.Code)
	// Невалидный payload всё равно попал в журнал аудита
	repo.AssertCalled(t, "SaveWebhookLog", ctx, "flutterwave", false, body)
	repo.AssertNotCalled(t, "ConfirmPayment", ctx, "TX-1", 100.0)
}

func TestPaymentService_HandleWebhook_Replay(t *testing.T) {
	repo := new(mockPaymentRepo)
	notifier := new(mockNotifier)
	svc := newPaymentService(repo, new(mockOrderRepo), new(mockTrustRepo))
	svc.SetNotifier(notifier)
	ctx := context.Background()

	body := webhookBody(t, "TX-1", 100, "charge.completed", "successful")
	repo.On("SaveWebhookLog", ctx, "flutterwave", true, body).Return(nil)
	repo.On("ConfirmPayment", ctx, "TX-1", 100.0).Return(&repository.ConfirmResult{
		AlreadyProcessed: true,
		Transaction:      &models.PaymentTransaction{TxRef: "TX-1", Status: models.TransactionStatusSuccessful},
	}, nil)

	result, err := svc.HandleWebhook(ctx, testWebhookSecret, body)

	assert.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	// Повтор не рассылает уведомления
	notifier.AssertNotCalled(t, "NotifyUser", ctx, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_HandleWebhook_IgnoresOtherEvents(t *testing.T) {
	repo := new(mockPaymentRepo)
	svc := newPaymentService(repo, new(mockOrderRepo), new(mockTrustRepo))
	ctx := context.Background()

	body := webhookBody(t, "TX-1", 100, "charge.completed", "failed")
	repo.On("SaveWebhookLog", ctx, "flutterwave", true, body).Return(nil)

	result, err := svc.HandleWebhook(ctx, testWebhookSecret, body)

	assert.NoError(t, err)
	assert.True(t, result.Ignored)
	repo.AssertNotCalled(t, "ConfirmPayment", ctx, "TX-1", 100.0)
}

func TestPaymentService_HandleWebhook_AmountMismatch(t *testing.T) {
	repo := new(mockPaymentRepo)
	trustRepo := new(mockTrustRepo)
	svc := newPaymentService(repo, new(mockOrderRepo), trustRepo)
	ctx := context.Background()

	clientID := uuid.New()
	orderID := uuid.New()
	body := webhookBody(t, "TX-1", 5, "charge.completed", "successful")

	repo.On("SaveWebhookLog", ctx, "flutterwave", true, body).Return(nil)
	repo.On("ConfirmPayment", ctx, "TX-1", 5.0).Return(nil, repository.ErrAmountMismatch)
	repo.On("GetTransactionByRef", ctx, "TX-1").Return(&models.PaymentTransaction{
		OrderID: orderID, UserID: clientID, TxRef: "TX-1", Amount: 100,
	}, nil)
	trustRepo.On("Record", ctx, mock.MatchedBy(func(e *models.TrustEvent) bool {
		return e.SubjectID == clientID && e.EventType == models.TrustEventFraudDetected && e.Delta == -40
	})).Return(true, &models.TrustScore{SubjectID: clientID}, nil)

	_, err := svc.HandleWebhook(ctx, testWebhookSecret, body)

	assert.Error(t, err)
	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeBadRequest, appErr.Code)
	trustRepo.AssertExpectations(t)
}

func TestPaymentService_HandleWebhook_UnknownRef(t *testing.T) {
	repo := new(mockPaymentRepo)
	svc := newPaymentService(repo, new(mockOrderRepo), new(mockTrustRepo))
	ctx := context.Background()

	body := webhookBody(t, "TX-nope", 100, "charge.completed", "successful")
	repo.On("SaveWebhookLog", ctx, "flutterwave", true, body).Return(nil)
	repo.On("ConfirmPayment", ctx, "TX-nope", 100.0).Return(nil, repository.ErrTransactionNotFound)

	// Чужая или устаревшая ссылка подтверждается без обработки
	result, err := svc.HandleWebhook(ctx, testWebhookSecret, body)

	assert.NoError(t, err)
	assert.True(t, result.Ignored)
}

func TestPaymentService_GetIntent_ClientOnly(t *testing.T) {
	repo := new(mockPaymentRepo)
	orders := new(mockOrderRepo)
	svc := newPaymentService(repo, orders, new(mockTrustRepo))
	ctx := context.Background()

	orderID := uuid.New()
	clientID := uuid.New()
	providerID := uuid.New()
	order := &models.Order{ID: orderID, ClientID: clientID, ProviderID: providerID, Status: models.OrderStatusPendingPayment}
	pt := &models.PaymentTransaction{OrderID: orderID, UserID: clientID, TxRef: "TX-1", Amount: 100}

	orders.On("GetByID", ctx, orderID).Return(order, nil)
	repo.On("GetTransactionByOrderID", ctx, orderID).Return(pt, nil)

	got, err := svc.GetIntent(ctx, orderID, clientID)
	assert.NoError(t, err)
	assert.Equal(t, "TX-1", got.TxRef)

	// Исполнителю платёжное намерение не показывается
	_, err = svc.GetIntent(ctx, orderID, providerID)
	assert.True(t, apperror.IsForbidden(err))
}

func TestPaymentService_HandleWebhook_CancelledOrder(t *testing.T) {
	repo := new(mockPaymentRepo)
	notifier := new(mockNotifier)
	svc := newPaymentService(repo, new(mockOrderRepo), new(mockTrustRepo))
	svc.SetNotifier(notifier)
	ctx := context.Background()

	// Заказ отменён до прихода webhook: транзакция уже failed, статус
	// заказа не pending_payment
	body := webhookBody(t, "TX-1", 100, "charge.completed", "successful")
	repo.On("SaveWebhookLog", ctx, "flutterwave", true, body).Return(nil)
	repo.On("ConfirmPayment", ctx, "TX-1", 100.0).Return(nil, repository.ErrStatusConflict)

	result, err := svc.HandleWebhook(ctx, testWebhookSecret, body)

	assert.NoError(t, err)
	assert.True(t, result.Ignored)
	notifier.AssertNotCalled(t, "NotifyUser", ctx, mock.Anything, mock.Anything, mock.Anything)
}
