package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/dto"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки централизованно: известные AppError
// отдаются клиенту как есть, всё остальное маскируется как 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		if logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Error("Request error")
		}

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			c.JSON(appErr.HTTPStatus, dto.ErrorResponse{
				Error:         appErr.Message,
				Code:          string(appErr.Code),
				CurrentStatus: appErr.CurrentStatus,
			})
			return
		}

		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "внутренняя ошибка сервера",
			Code:  string(apperror.ErrCodeInternal),
		})
	}
}
