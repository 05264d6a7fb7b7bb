package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/service"
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

func setupWebhookRouter(repo *mockPaymentRepo, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewPaymentService(repo, nil, nil, "flutterwave", secret)
	handler := NewWebhookHandler(svc)

	r := gin.New()
	r.POST("/api/webhooks/payment", handler.HandlePaymentWebhook)
	return r
}

func postWebhook(r *gin.Engine, signature string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("verif-hash", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_ValidSignature(t *testing.T) {
	repo := new(mockPaymentRepo)
	r := setupWebhookRouter(repo, "s3cret")

	order := &models.Order{ID: uuid.New(), ClientID: uuid.New(), ProviderID: uuid.New(), Status: models.OrderStatusAwaitingDelivery}
	body := []byte(`{"event":"charge.completed","data":{"id":1,"tx_ref":"TX-1","amount":100,"status":"successful"}}`)

	repo.On("SaveWebhookLog", mock.Anything, "flutterwave", true, mock.Anything).Return(nil)
	repo.On("ConfirmPayment", mock.Anything, "TX-1", 100.0).Return(&repository.ConfirmResult{Order: order}, nil)

	w := postWebhook(r, "s3cret", body)

	assert.Equal(t, http.StatusOK, w.Code)
	repo.AssertExpectations(t)
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	repo := new(mockPaymentRepo)
	r := setupWebhookRouter(repo, "s3cret")

	body := []byte(`{"event":"charge.completed","data":{"id":1,"tx_ref":"TX-1","amount":100,"status":"successful"}}`)
	repo.On("SaveWebhookLog", mock.Anything, "flutterwave", false, mock.Anything).Return(nil)

	w := postWebhook(r, "wrong", body)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	// Даже неподписанный payload сохраняется в журнал
	repo.AssertCalled(t, "SaveWebhookLog", mock.Anything, "flutterwave", false, mock.Anything)
	repo.AssertNotCalled(t, "ConfirmPayment", mock.Anything, "TX-1", 100.0)
}

func TestWebhookHandler_MissingSignature(t *testing.T) {
	repo := new(mockPaymentRepo)
	r := setupWebhookRouter(repo, "s3cret")

	body := []byte(`{"event":"charge.completed","data":{"tx_ref":"TX-1","amount":100,"status":"successful"}}`)
	repo.On("SaveWebhookLog", mock.Anything, "flutterwave", false, mock.Anything).Return(nil)

	w := postWebhook(r, "", body)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_ReplayReturnsOK(t *testing.T) {
	repo := new(mockPaymentRepo)
	r := setupWebhookRouter(repo, "s3cret")

	body := []byte(`{"event":"charge.completed","data":{"tx_ref":"TX-1","amount":100,"status":"successful"}}`)
	repo.On("SaveWebhookLog", mock.Anything, "flutterwave", true, mock.Anything).Return(nil)
	repo.On("ConfirmPayment", mock.Anything, "TX-1", 100.0).Return(&repository.ConfirmResult{AlreadyProcessed: true}, nil)

	w := postWebhook(r, "s3cret", body)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp service.WebhookResult
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.AlreadyProcessed)
}
