package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// AutoApprover периодически подтверждает сданные заказы, по которым
// клиент бездействует дольше окна автоподтверждения.
type AutoApprover struct {
	orders *service.OrderService
	every  time.Duration
}

func NewAutoApprover(orders *service.OrderService, every time.Duration) *AutoApprover {
	return &AutoApprover{orders: orders, every: every}
}

// Run крутит цикл до отмены контекста. Первый проход выполняется сразу,
// чтобы рестарт сервиса не откладывал просроченные подтверждения.
func (a *AutoApprover) Run(ctx context.Context) {
	log := logger.WithComponent("autoapprove")

	a.sweep(ctx, log)

	ticker := time.NewTicker(a.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("остановка автоподтверждения")
			return
		case <-ticker.C:
			a.sweep(ctx, log)
		}
	}
}

func (a *AutoApprover) sweep(ctx context.Context, log *logrus.Entry) {
	count, err := a.orders.AutoApproveExpired(ctx)
	if err != nil {
		log.WithError(err).Error("проход автоподтверждения завершился ошибкой")
		return
	}
	if count > 0 {
		log.WithField("settled", count).Info("автоподтверждены просроченные заказы")
	}
}
