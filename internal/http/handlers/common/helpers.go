package common

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

var (
	ErrUserNotFound = errors.New("пользователь не найден в контексте")
	ErrInvalidUUID  = errors.New("неверный формат UUID")
)

// CurrentUserID извлекает идентификатор пользователя из контекста gin.
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, ErrUserNotFound
	}

	userID, ok := raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrUserNotFound
	}

	return userID, nil
}

// ParseUUIDParam разбирает UUID из параметра маршрута.
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	param := c.Param(paramName)
	if param == "" {
		return uuid.Nil, fmt.Errorf("параметр %s отсутствует", paramName)
	}

	parsed, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}

	return parsed, nil
}

// RespondError отправляет стандартный ответ с ошибкой.
func RespondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, dto.ErrorResponse{Error: message})
}

// RespondUnauthorized отправляет 401.
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "требуется авторизация"
	}
	RespondError(c, http.StatusUnauthorized, message)
}

// RespondBadRequest отправляет 400.
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "некорректный запрос"
	}
	RespondError(c, http.StatusBadRequest, message)
}

// RespondServiceError превращает ошибку сервиса в HTTP-ответ: известные
// ошибки отдаются со своим статусом и кодом, остальные маскируются как 500.
func RespondServiceError(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, dto.ErrorResponse{
			Error:         appErr.Message,
			Code:          string(appErr.Code),
			CurrentStatus: appErr.CurrentStatus,
		})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error: "внутренняя ошибка сервера",
		Code:  string(apperror.ErrCodeInternal),
	})
}

// Pagination извлекает limit/offset из query-параметров.
func Pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
