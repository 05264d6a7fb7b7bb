package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

type mockDisputeRepo struct {
	mock.Mock
}

func (m *mockDisputeRepo) Raise(ctx context.Context, dispute *models.Dispute, expectedOrderStatus string) error {
	args := m.Called(ctx, dispute, expectedOrderStatus)
	if args.Error(0) == nil {
		dispute.ID = uuid.New()
		dispute.Status = models.DisputeStatusOpen
	}
	return args.Error(0)
}

func (m *mockDisputeRepo) Resolve(ctx context.Context, p repository.ResolutionParams) (*models.Dispute, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) GetOpenByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Dispute), args.Error(1)
}

func (m *mockDisputeRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Dispute), args.Error(1)
}

func newDisputeService(repo *mockDisputeRepo, orders *mockOrderRepo, trustRepo *mockTrustRepo) *DisputeService {
	return NewDisputeService(repo, orders, NewTrustService(trustRepo))
}

func TestDisputeService_Raise_DerivesRespondent(t *testing.T) {
	repo := new(mockDisputeRepo)
	orders := new(mockOrderRepo)
	svc := newDisputeService(repo, orders, new(mockTrustRepo))
	ctx := context.Background()

	orderID := uuid.New()
	clientID := uuid.New()
	providerID := uuid.New()
	order := &models.Order{ID: orderID, ClientID: clientID, ProviderID: providerID, Status: models.OrderStatusDelivered}

	orders.On("GetByID", ctx, orderID).Return(order, nil)
	repo.On("Raise", ctx, mock.MatchedBy(func(d *models.Dispute) bool {
		return d.RaiserID == clientID && d.RespondentID == providerID
	}), models.OrderStatusDelivered).Return(nil)

	dispute, err := svc.RaiseDispute(ctx, RaiseDisputeInput{
		OrderID:  orderID,
		RaiserID: clientID,
		Reason:   "работа не соответствует заданию",
	})

	assert.NoError(t, err)
	assert.Equal(t, providerID, dispute.RespondentID)
	assert.Equal(t, models.DisputeStatusOpen, dispute.Status)
}

func TestDisputeService_Raise_NotParticipant(t *testing.T) {
	repo := new(mockDisputeRepo)
	orders := new(mockOrderRepo)
	svc := newDisputeService(repo, orders, new(mockTrustRepo))
	ctx := context.Background()

	orderID := uuid.New()
	order := &models.Order{ID: orderID, ClientID: uuid.New(), ProviderID: uuid.New(), Status: models.OrderStatusDelivered}
	orders.On("GetByID", ctx, orderID).Return(order, nil)

	_, err := svc.RaiseDispute(ctx, RaiseDisputeInput{OrderID: orderID, RaiserID: uuid.New(), Reason: "x"})
	assert.True(t, apperror.IsForbidden(err))
}

func TestDisputeService_Raise_WrongStatus(t *testing.T) {
	repo := new(mockDisputeRepo)
	orders := new(mockOrderRepo)
	svc := newDisputeService(repo, orders, new(mockTrustRepo))
	ctx := context.Background()

	orderID := uuid.New()
	clientID := uuid.New()
	order := &models.Order{ID: orderID, ClientID: clientID, ProviderID: uuid.New(), Status: models.OrderStatusPendingPayment}
	orders.On("GetByID", ctx, orderID).Return(order, nil)

	_, err := svc.RaiseDispute(ctx, RaiseDisputeInput{OrderID: orderID, RaiserID: clientID, Reason: "x"})
	assert.True(t, apperror.IsStateConflict(err))
}

func TestDisputeService_Raise_SecondDisputeRejected(t *testing.T) {
	repo := new(mockDisputeRepo)
	orders := new(mockOrderRepo)
	svc := newDisputeService(repo, orders, new(mockTrustRepo))
	ctx := context.Background()

	orderID := uuid.New()
	clientID := uuid.New()
	order := &models.Order{ID: orderID, ClientID: clientID, ProviderID: uuid.New(), Status: models.OrderStatusDelivered}

	orders.On("GetByID", ctx, orderID).Return(order, nil)
	repo.On("Raise", ctx, mock.Anything, models.OrderStatusDelivered).Return(repository.ErrDisputeAlreadyExists)

	_, err := svc.RaiseDispute(ctx, RaiseDisputeInput{OrderID: orderID, RaiserID: clientID, Reason: "x"})
	assert.True(t, apperror.IsStateConflict(err))
}

func TestDisputeService_Resolve_ForClientRaiser(t *testing.T) {
	repo := new(mockDisputeRepo)
	orders := new(mockOrderRepo)
	svc := newDisputeService(repo, orders, new(mockTrustRepo))
	ctx := context.Background()

	orderID := uuid.New()
	clientID := uuid.New()
	providerID := uuid.New()
	disputeID := uuid.New()
	adminID := uuid.New()

	dispute := &models.Dispute{
		ID: disputeID, OrderID: orderID,
		RaiserID: clientID, RespondentID: providerID,
		Status: models.DisputeStatusOpen,
	}
	order := &models.Order{ID: orderID, ClientID: clientID, ProviderID: providerID, Status: models.OrderStatusDisputed}
	resolved := &models.Dispute{
		ID: disputeID, OrderID: orderID,
		RaiserID: clientID, RespondentID: providerID,
		Status: models.DisputeStatusResolvedForRaiser,
	}

	repo.On("GetByID", ctx, disputeID).Return(dispute, nil)
	orders.On("GetByID", ctx, orderID).Return(order, nil)
	repo.On("Resolve", ctx, mock.MatchedBy(func(p repository.ResolutionParams) bool {
		// Клиент выиграл: возврат средств, заказ refunded, штраф исполнителю
		return p.FinalStatus == models.DisputeStatusResolvedForRaiser &&
			p.EscrowOutcome == models.EscrowStatusRefunded &&
			p.OrderOutcome == models.OrderStatusRefunded &&
			len(p.Events) == 1 &&
			p.Events[0].SubjectID == providerID &&
			p.Events[0].EventType == models.TrustEventDisputeLost
	})).Return(resolved, nil)

	got, err := svc.ResolveDispute(ctx, ResolveDisputeInput{
		DisputeID:       disputeID,
		ResolvedBy:      adminID,
		InFavorOfRaiser: true,
	})

	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolvedForRaiser, got.Status)
	repo.AssertExpectations(t)
}

func TestDisputeService_Resolve_ForProviderRespondent(t *testing.T) {
	repo := new(mockDisputeRepo)
	orders := new(mockOrderRepo)
	svc := newDisputeService(repo, orders, new(mockTrustRepo))
	ctx := context.Background()

	orderID := uuid.New()
	clientID := uuid.New()
	providerID := uuid.New()
	disputeID := uuid.New()

	dispute := &models.Dispute{
		ID: disputeID, OrderID: orderID,
		RaiserID: clientID, RespondentID: providerID,
		Status: models.DisputeStatusOpen,
	}
	order := &models.Order{ID: orderID, ClientID: clientID, ProviderID: providerID, Status: models.OrderStatusDisputed}
	resolved := &models.Dispute{
		ID: disputeID, OrderID: orderID,
		RaiserID: clientID, RespondentID: providerID,
		Status: models.DisputeStatusResolvedForRespondent,
	}

	repo.On("GetByID", ctx, disputeID).Return(dispute, nil)
	orders.On("GetByID", ctx, orderID).Return(order, nil)
	repo.On("Resolve", ctx, mock.MatchedBy(func(p repository.ResolutionParams) bool {
		// Исполнитель выиграл: освобождение средств, заказ completed, штраф клиенту
		return p.FinalStatus == models.DisputeStatusResolvedForRespondent &&
			p.EscrowOutcome == models.EscrowStatusReleased &&
			p.OrderOutcome == models.OrderStatusCompleted &&
			len(p.Events) == 1 &&
			p.Events[0].SubjectID == clientID
	})).Return(resolved, nil)

	got, err := svc.ResolveDispute(ctx, ResolveDisputeInput{
		DisputeID:       disputeID,
		ResolvedBy:      uuid.New(),
		InFavorOfRaiser: false,
	})

	assert.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolvedForRespondent, got.Status)
}

func TestDisputeService_Resolve_AlreadyClosed(t *testing.T) {
	repo := new(mockDisputeRepo)
	orders := new(mockOrderRepo)
	svc := newDisputeService(repo, orders, new(mockTrustRepo))
	ctx := context.Background()

	disputeID := uuid.New()
	dispute := &models.Dispute{ID: disputeID, Status: models.DisputeStatusResolvedForRaiser}
	repo.On("GetByID", ctx, disputeID).Return(dispute, nil)

	_, err := svc.ResolveDispute(ctx, ResolveDisputeInput{DisputeID: disputeID, ResolvedBy: uuid.New(), InFavorOfRaiser: true})
	assert.True(t, apperror.IsStateConflict(err))
	repo.AssertNotCalled(t, "Resolve", ctx, mock.Anything)
}

func TestDisputeService_GetDispute_OnlyParties(t *testing.T) {
	repo := new(mockDisputeRepo)
	orders := new(mockOrderRepo)
	svc := newDisputeService(repo, orders, new(mockTrustRepo))
	ctx := context.Background()

	disputeID := uuid.New()
	raiserID := uuid.New()
	dispute := &models.Dispute{ID: disputeID, RaiserID: raiserID, RespondentID: uuid.New(), Status: models.DisputeStatusOpen}
	repo.On("GetByID", ctx, disputeID).Return(dispute, nil)

	got, err := svc.GetDispute(ctx, disputeID, raiserID)
	assert.NoError(t, err)
	assert.Equal(t, disputeID, got.ID)

	_, err = svc.GetDispute(ctx, disputeID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))
}

func TestDisputeService_GetOrderDispute(t *testing.T) {
	repo := new(mockDisputeRepo)
	orders := new(mockOrderRepo)
	svc := newDisputeService(repo, orders, new(mockTrustRepo))
	ctx := context.Background()

	orderID := uuid.New()
	clientID := uuid.New()
	providerID := uuid.New()
	order := &models.Order{ID: orderID, ClientID: clientID, ProviderID: providerID, Status: models.OrderStatusDisputed}
	dispute := &models.Dispute{ID: uuid.New(), OrderID: orderID, RaiserID: clientID, RespondentID: providerID, Status: models.DisputeStatusOpen}

	orders.On("GetByID", ctx, orderID).Return(order, nil)
	repo.On("GetOpenByOrderID", ctx, orderID).Return(dispute, nil)

	got, err := svc.GetOrderDispute(ctx, orderID, providerID)
	assert.NoError(t, err)
	assert.Equal(t, dispute.ID, got.ID)

	// Посторонний пользователь спор по заказу не видит
	_, err = svc.GetOrderDispute(ctx, orderID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))
}
