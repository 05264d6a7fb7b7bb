package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// ReviewRepository описывает чтение отзывов. Создание отзыва — часть
// транзакции подтверждения заказа, отдельной операции записи нет.
type ReviewRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Review, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Review, error)
	ListByReviewedID(ctx context.Context, reviewedID uuid.UUID, limit, offset int) ([]models.Review, error)
	GetAverageRating(ctx context.Context, userID uuid.UUID) (float64, int, error)
}

// ReviewService отдаёт отзывы и агрегаты рейтинга.
type ReviewService struct {
	repo ReviewRepository
}

func NewReviewService(repo ReviewRepository) *ReviewService {
	return &ReviewService{repo: repo}
}

// ListByUser возвращает отзывы о пользователе.
func (s *ReviewService) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Review, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByReviewedID(ctx, userID, limit, offset)
}

// ListByOrder возвращает отзывы по заказу. Отзывы публичны.
func (s *ReviewService) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Review, error) {
	return s.repo.ListByOrderID(ctx, orderID)
}

// UserRatingSummary — агрегат отзывов о пользователе.
type UserRatingSummary struct {
	UserID        uuid.UUID `json:"user_id"`
	AverageRating float64   `json:"average_rating"`
	ReviewCount   int       `json:"review_count"`
}

// GetUserRating возвращает средний рейтинг и количество отзывов.
func (s *ReviewService) GetUserRating(ctx context.Context, userID uuid.UUID) (*UserRatingSummary, error) {
	avg, count, err := s.repo.GetAverageRating(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserRatingSummary{UserID: userID, AverageRating: avg, ReviewCount: count}, nil
}
