package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

type TrustHandler struct {
	svc *service.TrustService
}

func NewTrustHandler(s *service.TrustService) *TrustHandler {
	return &TrustHandler{svc: s}
}

// GetScore GET /users/:id/trust
func (h *TrustHandler) GetScore(c *gin.Context) {
	subjectID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	score, err := h.svc.GetScore(c.Request.Context(), subjectID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

// ListEvents GET /users/:id/trust/events
func (h *TrustHandler) ListEvents(c *gin.Context) {
	subjectID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	limit, offset := common.Pagination(c)
	events, err := h.svc.ListEvents(c.Request.Context(), subjectID, limit, offset)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// VerifyIdentity POST /admin/users/:id/verify
// Начисляет очки за подтверждённую личность. Повторный вызов для того же
// пользователя не меняет счёт.
func (h *TrustHandler) VerifyIdentity(c *gin.Context) {
	subjectID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	score, err := h.svc.Record(c.Request.Context(), subjectID, models.TrustEventIdentityVerified, subjectID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}
