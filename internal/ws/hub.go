package ws

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// Hub управляет активными WebSocket подключениями и доставляет события
// жизненного цикла заказов онлайн-пользователям. Персистентность
// уведомлений лежит на сервисе уведомлений, хаб только доставляет.
type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	outbound   chan message
}

type message struct {
	userID  uuid.UUID
	payload []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan message, 32),
	}
}

// Run запускает главный цикл хаба.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.outbound:
			h.send(msg.userID, msg.payload)
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Push отправляет payload всем подключениям пользователя.
// Для офлайн-пользователя это no-op: уведомление уже сохранено в БД.
func (h *Hub) Push(userID uuid.UUID, payload []byte) {
	h.outbound <- message{userID: userID, payload: payload}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			// Переполненный буфер означает мёртвое соединение
			go func(c *Client) {
				defer func() {
					if r := recover(); r != nil {
						logger.WithComponent("ws").Errorf("panic при закрытии клиента: %v", r)
					}
				}()
				c.Close()
			}(client)
		}
	}
}
