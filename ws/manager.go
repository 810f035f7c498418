package ws

import (
	"context"
	"sync"

	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"
)

// WebSocketManager учитывает подключенных клиентов и закрывает их при остановке
type WebSocketManager struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
}

func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run обслуживает регистрацию до отмены ctx, затем закрывает всех клиентов
func (manager *WebSocketManager) Run(ctx context.Context) error {
	defer close(manager.done)
	for {
		select {
		case client := <-manager.register:
			manager.mu.Lock()
			manager.clients[client] = struct{}{}
			total := len(manager.clients)
			manager.mu.Unlock()
			metrics.SetConnectedClients(total)
			logger.Debug("WebSocket client registered", "user_id", client.UserID, "total", total)

		case client := <-manager.unregister:
			manager.mu.Lock()
			if _, ok := manager.clients[client]; ok {
				delete(manager.clients, client)
			}
			total := len(manager.clients)
			manager.mu.Unlock()
			metrics.SetConnectedClients(total)
			logger.Debug("WebSocket client unregistered", "user_id", client.UserID, "total", total)

		case <-ctx.Done():
			manager.mu.Lock()
			for client := range manager.clients {
				client.close()
				delete(manager.clients, client)
			}
			manager.mu.Unlock()
			metrics.SetConnectedClients(0)
			logger.Info("WebSocket manager stopped")
			return nil
		}
	}
}

// Count - число подключенных клиентов
func (manager *WebSocketManager) Count() int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients)
}

func (manager *WebSocketManager) add(c *Client) bool {
	select {
	case manager.register <- c:
		return true
	case <-manager.done:
		return false
	}
}

func (manager *WebSocketManager) remove(c *Client) {
	select {
	case manager.unregister <- c:
	case <-manager.done:
	}
}
