package dto

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// CurrentStatus — фактический статус сущности при конфликте состояния.
	CurrentStatus string `json:"current_status,omitempty"`
}

// SuccessResponse — стандартный формат успешного ответа с сообщением.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
