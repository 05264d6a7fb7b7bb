package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// WebhookHandler принимает callbacks платёжного шлюза.
type WebhookHandler struct {
	svc *service.PaymentService
}

func NewWebhookHandler(s *service.PaymentService) *WebhookHandler {
	return &WebhookHandler{svc: s}
}

// HandlePaymentWebhook POST /webhooks/payment
// Тело читается сырым: оно сохраняется в журнал аудита как пришло,
// до разбора и независимо от валидности подписи.
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	signature := c.GetHeader("verif-hash")
	result, err := h.svc.HandleWebhook(c.Request.Context(), signature, body)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
