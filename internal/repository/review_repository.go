package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

var ErrReviewNotFound = errors.New("review not found")

// ReviewRepository читает отзывы; создание происходит только внутри
// транзакции подтверждения заказа.
type ReviewRepository struct {
	db *sqlx.DB
}

func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// GetByID возвращает отзыв по идентификатору.
func (r *ReviewRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	return common.GetByID[models.Review](ctx, r.db, "reviews", id, ErrReviewNotFound)
}

// ListByOrderID возвращает отзывы по заказу.
func (r *ReviewRepository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Review, error) {
	var reviews []models.Review
	err := r.db.SelectContext(ctx, &reviews, `
		SELECT * FROM reviews WHERE order_id = $1 ORDER BY created_at DESC
	`, orderID)
	return reviews, err
}

// ListByReviewedID возвращает отзывы о пользователе.
func (r *ReviewRepository) ListByReviewedID(ctx context.Context, reviewedID uuid.UUID, limit, offset int) ([]models.Review, error) {
	var reviews []models.Review
	err := r.db.SelectContext(ctx, &reviews, `
		SELECT * FROM reviews WHERE reviewed_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, reviewedID, limit, offset)
	return reviews, err
}

// GetAverageRating возвращает средний рейтинг и количество отзывов.
func (r *ReviewRepository) GetAverageRating(ctx context.Context, userID uuid.UUID) (float64, int, error) {
	var row struct {
		Avg   float64 `db:"avg"`
		Count int     `db:"count"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT COALESCE(AVG(rating), 0) AS avg, COUNT(*) AS count
		FROM reviews WHERE reviewed_id = $1
	`, userID)
	return row.Avg, row.Count, err
}
