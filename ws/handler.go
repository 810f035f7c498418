package ws

import (
	"net/http"
	"strings"

	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/middleware"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/services"
	"trustwork_backend/pkg/apperrors"
	"trustwork_backend/pkg/contextkeys"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

const tableNotifications = "notifications"

// таблицы, на которые можно подписаться
var streamTables = map[string]bool{
	"applications":     true,
	"gigs":             true,
	"milestones":       true,
	"escrow_payments":  true,
	tableNotifications: true,
}

type WebSocketHandler struct {
	Manager       *WebSocketManager
	hub           *realtime.Hub
	notifications services.NotificationService
	upgrader      websocket.Upgrader
}

func NewWebSocketHandler(manager *WebSocketManager, hub *realtime.Hub, notifications services.NotificationService, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		Manager:       manager,
		hub:           hub,
		notifications: notifications,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// пустой список разрешает любой origin
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[strings.TrimRight(origin, "/")]
	}
}

// StreamSpec - подписка из query: "table" или "table:column=value"
type StreamSpec struct {
	Table  string
	Filter string
}

// ParseTables разбирает tables=notifications,milestones:gig_id=...
// Без параметра клиент получает только уведомления.
func ParseTables(raw string) ([]StreamSpec, error) {
	if strings.TrimSpace(raw) == "" {
		return []StreamSpec{{Table: tableNotifications}}, nil
	}
	var specs []StreamSpec
	seen := make(map[StreamSpec]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		table, filter, _ := strings.Cut(part, ":")
		if !streamTables[table] {
			return nil, apperrors.FieldError("tables", "unknown table "+table)
		}
		if _, err := realtime.ParseFilter(filter); err != nil {
			return nil, apperrors.FieldError("tables", err.Error())
		}
		spec := StreamSpec{Table: table, Filter: filter}
		if !seen[spec] {
			seen[spec] = true
			specs = append(specs, spec)
		}
	}
	if len(specs) == 0 {
		return nil, apperrors.FieldError("tables", "no tables requested")
	}
	return specs, nil
}

// ServeWS ждет принципала от AuthMiddleware
func (h *WebSocketHandler) ServeWS(c *gin.Context) {
	ctx := c.Request.Context()

	p, ok := middleware.GetPrincipal(c)
	if !ok {
		apperrors.HandleError(c, apperrors.NewUnauthenticatedError("User not authenticated"))
		return
	}
	specs, err := ParseTables(c.Query("tables"))
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	var unread *realtime.UnreadCounter
	for _, s := range specs {
		if s.Table == tableNotifications {
			db, _ := c.MustGet(string(contextkeys.DBContextKey)).(*gorm.DB)
			seed, err := h.notifications.UnreadCount(ctx, db.WithContext(ctx), p)
			if err != nil {
				apperrors.HandleError(c, err)
				return
			}
			unread = realtime.NewUnreadCounter(seed)
			break
		}
	}

	subs := make([]*realtime.Subscription, 0, len(specs))
	for _, s := range specs {
		sub, err := h.hub.Subscribe(p.UserID, s.Table, s.Filter)
		if err != nil {
			for _, open := range subs {
				open.Close()
			}
			apperrors.HandleError(c, apperrors.FieldError("tables", err.Error()))
			return
		}
		subs = append(subs, sub)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		for _, sub := range subs {
			sub.Close()
		}
		logger.CtxWarn(ctx, "WebSocket upgrade error", "error", err)
		return
	}

	client := newClient(p.UserID, conn, h.Manager, subs, unread)
	if !h.Manager.add(client) {
		client.close()
		return
	}
	logger.CtxInfo(ctx, "WebSocket client connected", "streams", len(specs))
	client.start()
}
