package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователей
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User — участник платформы. Один и тот же пользователь может быть
// клиентом в одном заказе и исполнителем в другом.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
