package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const (
	sendBuffer = 16
	ackTimeout = 5 * time.Second
)

// NotificationAcker marks a caregiver's notification as read
type NotificationAcker interface {
	MarkStatus(ctx context.Context, id, childUserID string, status models.NotificationStatus) (*models.RiskNotification, error)
}

type client struct {
	userID string
	send   chan []byte
}

// Hub keeps the live caregiver connections and pushes risk notifications to
// them. A user may hold several connections; each gets every message.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	logger  *logrus.Logger
}

// NewHub creates an empty hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		logger:  logger,
	}
}

// Push queues message for every connection of userID. It reports false when
// the user has no connection that could take it.
func (h *Hub) Push(userID string, message interface{}) bool {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode push message")
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for cl := range h.clients[userID] {
		select {
		case cl.send <- data:
			delivered = true
		default:
			h.logger.WithField("user_id", userID).Warn("Dropping push message for slow websocket client")
		}
	}
	return delivered
}

// Connected reports whether userID has a live connection
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Count returns the number of users with a live connection
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(userID string) *client {
	cl := &client{userID: userID, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][cl] = struct{}{}
	return cl
}

// unregister removes cl and closes its send queue; Push never sends to a
// closed queue because it holds the read lock while sending.
func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[cl.userID]; ok {
		delete(set, cl)
		if len(set) == 0 {
			delete(h.clients, cl.userID)
		}
	}
	close(cl.send)
}

// clientMessage is what caregivers send over the socket
type clientMessage struct {
	Type           string          `json:"type"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	NotificationID string          `json:"notification_id,omitempty"`
}

// Handler serves /ws/:user_id
func (h *Hub) Handler(acker NotificationAcker) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID := conn.Params("user_id")
		cl := h.register(userID)
		log := h.logger.WithField("user_id", userID)
		log.Info("WebSocket client connected")

		done := make(chan struct{})
		go func() {
			defer close(done)
			for data := range cl.send {
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.WithError(err).Debug("WebSocket write failed")
					// drain so Push never blocks on this client
					for range cl.send {
					}
					return
				}
			}
		}()

		// replies share the queue with pushes; only this goroutine closes it
		reply := func(msg fiber.Map) {
			data, _ := json.Marshal(msg)
			select {
			case cl.send <- data:
			default:
			}
		}

		reply(fiber.Map{
			"type":    "connection_established",
			"user_id": userID,
			"message": "WebSocket连接已建立",
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.handleMessage(log, acker, userID, data, reply)
		}

		h.unregister(cl)
		<-done
		log.Info("WebSocket client disconnected")
	})
}

func (h *Hub) handleMessage(log *logrus.Entry, acker NotificationAcker, userID string, data []byte, reply func(fiber.Map)) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		reply(fiber.Map{"type": "error", "message": "消息处理失败"})
		return
	}

	switch msg.Type {
	case "ping":
		reply(fiber.Map{"type": "pong", "timestamp": msg.Timestamp})
	case "subscribe":
		reply(fiber.Map{"type": "subscription_confirmed", "message": "已订阅风险通知"})
	case "notification_ack":
		ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()
		if _, err := acker.MarkStatus(ctx, msg.NotificationID, userID, models.NotificationRead); err != nil {
			log.WithError(err).WithField("notification_id", msg.NotificationID).Warn("Notification ack failed")
			reply(fiber.Map{"type": "error", "message": "通知确认失败", "notification_id": msg.NotificationID})
			return
		}
		reply(fiber.Map{"type": "ack_confirmed", "notification_id": msg.NotificationID})
	default:
		reply(fiber.Map{"type": "error", "message": "未知的消息类型: " + msg.Type})
	}
}
