package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

type OrderHandler struct {
	svc *service.OrderService
}

func NewOrderHandler(s *service.OrderService) *OrderHandler {
	return &OrderHandler{svc: s}
}

// CreateOrder POST /orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		ProviderID   uuid.UUID  `json:"provider_id" binding:"required"`
		ListingID    *uuid.UUID `json:"listing_id"`
		ProposalID   *uuid.UUID `json:"proposal_id"`
		Title        string     `json:"title" binding:"required"`
		GrossAmount  float64    `json:"gross_amount" binding:"required"`
		DeadlineAt   *time.Time `json:"deadline_at"`
		MaxRevisions *int       `json:"max_revisions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, payment, err := h.svc.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		ClientID:     userID,
		ProviderID:   req.ProviderID,
		ListingID:    req.ListingID,
		ProposalID:   req.ProposalID,
		Title:        req.Title,
		GrossAmount:  req.GrossAmount,
		DeadlineAt:   req.DeadlineAt,
		MaxRevisions: req.MaxRevisions,
	})
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":   order,
		"payment": payment,
	})
}

// GetOrder GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
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

	order, err := h.svc.GetOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListMyOrders GET /orders
func (h *OrderHandler) ListMyOrders(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.Pagination(c)
	orders, err := h.svc.ListMyOrders(c.Request.Context(), userID, c.Query("status"), limit, offset)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// Deliver POST /orders/:id/deliver
func (h *OrderHandler) Deliver(c *gin.Context) {
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
		Note  string   `json:"note"`
		Files []string `json:"files"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.svc.Deliver(c.Request.Context(), orderID, userID, req.Note, req.Files)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Approve POST /orders/:id/approve
func (h *OrderHandler) Approve(c *gin.Context) {
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
		Rating  int     `json:"rating" binding:"required"`
		Comment *string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	summary, err := h.svc.Approve(c.Request.Context(), orderID, userID, req.Rating, req.Comment)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RequestRevision PATCH /orders/:id/revision
func (h *OrderHandler) RequestRevision(c *gin.Context) {
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
		Note string `json:"note" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.svc.RequestRevision(c.Request.Context(), orderID, userID, req.Note)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Cancel POST /orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
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

	order, err := h.svc.Cancel(c.Request.Context(), orderID, userID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
