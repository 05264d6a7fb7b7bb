package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

type DisputeHandler struct {
	svc *service.DisputeService
}

func NewDisputeHandler(s *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{svc: s}
}

// RaiseDispute POST /orders/:id/dispute
func (h *DisputeHandler) RaiseDispute(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Reason      string   `json:"reason" binding:"required"`
		Description string   `json:"description"`
		Evidence    []string `json:"evidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.RaiseDispute(c.Request.Context(), service.RaiseDisputeInput{
		OrderID:     orderID,
		RaiserID:    userID,
		Reason:      req.Reason,
		Description: req.Description,
		Evidence:    req.Evidence,
	})
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

// GetOrderDispute GET /orders/:id/dispute
func (h *DisputeHandler) GetOrderDispute(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.GetOrderDispute(c.Request.Context(), orderID, userID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// GetDispute GET /disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.GetDispute(c.Request.Context(), disputeID, userID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// ListMyDisputes GET /disputes
func (h *DisputeHandler) ListMyDisputes(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.Pagination(c)
	disputes, err := h.svc.ListMyDisputes(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, disputes)
}

// ResolveDispute POST /admin/disputes/:id/resolve
func (h *DisputeHandler) ResolveDispute(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		// winner: raiser или respondent
		Winner string `json:"winner" binding:"required,oneof=raiser respondent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.ResolveDispute(c.Request.Context(), service.ResolveDisputeInput{
		DisputeID:       disputeID,
		ResolvedBy:      adminID,
		InFavorOfRaiser: req.Winner == "raiser",
	})
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}
