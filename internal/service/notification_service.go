package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// NotificationRepository описывает взаимодействие сервиса с хранилищем уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// NotificationHub доставляет уведомления по активным websocket-соединениям.
type NotificationHub interface {
	Push(userID uuid.UUID, payload []byte)
}

// NotificationService сохраняет уведомления и доставляет их онлайн-пользователям.
type NotificationService struct {
	repo NotificationRepository
	hub  NotificationHub
}

func NewNotificationService(repo NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

// SetHub подключает websocket-хаб.
func (s *NotificationService) SetHub(hub NotificationHub) {
	s.hub = hub
}

// NotifyUser сохраняет уведомление и пытается доставить его по websocket.
func (s *NotificationService) NotifyUser(ctx context.Context, userID uuid.UUID, event string, data interface{}) error {
	payload := map[string]interface{}{
		"event": event,
		"data":  data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notification service: marshal payload %w", err)
	}

	notification := &models.Notification{
		UserID:  userID,
		Payload: payloadBytes,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return err
	}

	if s.hub != nil {
		s.hub.Push(userID, payloadBytes)
	}
	return nil
}

// ListNotifications возвращает уведомления пользователя.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead отмечает уведомление прочитанным.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	notification, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if notification.UserID != userID {
		return apperror.ErrForbidden
	}
	return s.repo.MarkAsRead(ctx, id)
}

// CountUnread возвращает количество непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}
