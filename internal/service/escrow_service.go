package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// EscrowRepository описывает чтение состояния escrow.
type EscrowRepository interface {
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowBalance, error)
}

// EscrowService отдаёт состояние удержанных средств. Все изменения escrow
// происходят только внутри транзакций жизненного цикла заказа.
type EscrowService struct {
	repo   EscrowRepository
	orders OrderRepository
}

func NewEscrowService(repo EscrowRepository, orders OrderRepository) *EscrowService {
	return &EscrowService{repo: repo, orders: orders}
}

// GetByOrderID возвращает escrow заказа его стороне.
func (s *EscrowService) GetByOrderID(ctx context.Context, orderID, userID uuid.UUID) (*models.EscrowBalance, error) {
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

	escrow, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		if err == repository.ErrEscrowNotFound {
			return nil, apperror.ErrEscrowNotFound
		}
		return nil, err
	}
	return escrow, nil
}
