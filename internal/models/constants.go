package models

// OrderStatus константы статусов заказов
const (
	OrderStatusPendingPayment    = "pending_payment"
	OrderStatusAwaitingDelivery  = "awaiting_delivery"
	OrderStatusDelivered         = "delivered"
	OrderStatusRevisionRequested = "revision_requested"
	OrderStatusCompleted         = "completed"
	OrderStatusDisputed          = "disputed"
	OrderStatusCancelled         = "cancelled"
	OrderStatusRefunded          = "refunded"
)

// ValidOrderStatuses список валидных статусов заказов
var ValidOrderStatuses = map[string]struct{}{
	OrderStatusPendingPayment:    {},
	OrderStatusAwaitingDelivery:  {},
	OrderStatusDelivered:         {},
	OrderStatusRevisionRequested: {},
	OrderStatusCompleted:         {},
	OrderStatusDisputed:          {},
	OrderStatusCancelled:         {},
	OrderStatusRefunded:          {},
}

// TerminalOrderStatuses — статусы, из которых заказ больше не выходит.
var TerminalOrderStatuses = map[string]struct{}{
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
	OrderStatusRefunded:  {},
}

// DisputableOrderStatuses — статусы, в которых можно открыть спор.
var DisputableOrderStatuses = map[string]struct{}{
	OrderStatusAwaitingDelivery:  {},
	OrderStatusDelivered:         {},
	OrderStatusRevisionRequested: {},
}

// IsTerminalOrderStatus проверяет, является ли статус заказа конечным.
func IsTerminalOrderStatus(status string) bool {
	_, ok := TerminalOrderStatuses[status]
	return ok
}

// IsDisputableOrderStatus проверяет, можно ли открыть спор из данного статуса.
func IsDisputableOrderStatus(status string) bool {
	_, ok := DisputableOrderStatuses[status]
	return ok
}
