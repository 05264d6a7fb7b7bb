package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

type PaymentHandler struct {
	payments *service.PaymentService
	escrow   *service.EscrowService
}

func NewPaymentHandler(payments *service.PaymentService, escrow *service.EscrowService) *PaymentHandler {
	return &PaymentHandler{payments: payments, escrow: escrow}
}

// GetPaymentIntent GET /orders/:id/payment
func (h *PaymentHandler) GetPaymentIntent(c *gin.Context) {
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

	intent, err := h.payments.GetIntent(c.Request.Context(), orderID, userID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

// GetEscrow GET /orders/:id/escrow
func (h *PaymentHandler) GetEscrow(c *gin.Context) {
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

	escrow, err := h.escrow.GetByOrderID(c.Request.Context(), orderID, userID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, escrow)
}
