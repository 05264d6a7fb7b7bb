package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

type ReviewHandler struct {
	svc *service.ReviewService
}

func NewReviewHandler(s *service.ReviewService) *ReviewHandler {
	return &ReviewHandler{svc: s}
}

// ListUserReviews GET /users/:id/reviews
func (h *ReviewHandler) ListUserReviews(c *gin.Context) {
	userID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	limit, offset := common.Pagination(c)
	reviews, err := h.svc.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, reviews)
}

// ListOrderReviews GET /orders/:id/reviews
func (h *ReviewHandler) ListOrderReviews(c *gin.Context) {
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	reviews, err := h.svc.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, reviews)
}

// GetUserRating GET /users/:id/rating
func (h *ReviewHandler) GetUserRating(c *gin.Context) {
	userID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	summary, err := h.svc.GetUserRating(c.Request.Context(), userID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
