package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"trustwork_backend/internal/logger"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ChangeEvent - вид изменения строки
type ChangeEvent string

const (
	EventInsert ChangeEvent = "insert"
	EventUpdate ChangeEvent = "update"
	EventDelete ChangeEvent = "delete"
)

// Change - изменение строки таблицы, отправляемое подписчикам после коммита
type Change struct {
	Table string          `json:"table"`
	Event ChangeEvent     `json:"event"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

// NewChange сериализует строки; nil означает отсутствие стороны
func NewChange(table string, event ChangeEvent, oldRow, newRow interface{}) Change {
	c := Change{Table: table, Event: event}
	if oldRow != nil {
		c.Old, _ = json.Marshal(oldRow)
	}
	if newRow != nil {
		c.New, _ = json.Marshal(newRow)
	}
	return c
}

// row - строка, по которой проверяется фильтр
func (c Change) row() []byte {
	if len(c.New) > 0 {
		return c.New
	}
	return c.Old
}

// Filter - условие column=value по JSON строки
type Filter struct {
	Column string
	Value  string
}

// ParseFilter разбирает "column=value"; пустая строка - без фильтра
func ParseFilter(raw string) (*Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	col, val, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(col) == "" {
		return nil, fmt.Errorf("invalid filter %q, expected column=value", raw)
	}
	return &Filter{Column: strings.TrimSpace(col), Value: strings.TrimSpace(val)}, nil
}

func (f *Filter) Matches(row []byte) bool {
	if f == nil {
		return true
	}
	res := gjson.GetBytes(row, f.Column)
	return res.Exists() && res.String() == f.Value
}

// Subscription - поток изменений одной таблицы для одного пользователя
type Subscription struct {
	ID     string
	UserID string
	Table  string
	filter *Filter

	ch     chan Change
	C      <-chan Change
	hub    *Hub
	closed bool
}

// Close отписывает; повторный вызов ничего не делает
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Relay пересылает изменения другим экземплярам сервиса
type Relay interface {
	Publish(ctx context.Context, change Change, audience []string) error
}

// Hub раздает изменения подписчикам из аудитории изменения
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Subscription
	buffer int
	relay  Relay
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{byUser: make(map[string]map[string]*Subscription), buffer: buffer}
}

// SetRelay подключает межэкземплярную пересылку
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

func (h *Hub) Subscribe(userID, table, filter string) (*Subscription, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	ch := make(chan Change, h.buffer)
	sub := &Subscription{
		ID:     uuid.NewString(),
		UserID: userID,
		Table:  table,
		filter: f,
		ch:     ch,
		C:      ch,
		hub:    h,
	}

	h.mu.Lock()
	subs, ok := h.byUser[userID]
	if !ok {
		subs = make(map[string]*Subscription)
		h.byUser[userID] = subs
	}
	subs[sub.ID] = sub
	h.mu.Unlock()
	return sub, nil
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	if subs, ok := h.byUser[sub.UserID]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.byUser, sub.UserID)
		}
	}
	close(sub.ch)
}

// Publish доставляет изменение локально и пересылает его через relay
func (h *Hub) Publish(ctx context.Context, change Change, audience ...string) {
	h.Deliver(change, audience)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		if err := relay.Publish(ctx, change, audience); err != nil {
			logger.CtxWarn(ctx, "Failed to relay realtime change", "table", change.Table, "error", err)
		}
	}
}

// Deliver - только локальные подписчики. Медленный подписчик пропускает изменение.
func (h *Hub) Deliver(change Change, audience []string) {
	row := change.row()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range dedupe(audience) {
		for _, sub := range h.byUser[userID] {
			if sub.Table != change.Table || !sub.filter.Matches(row) {
				continue
			}
			select {
			case sub.ch <- change:
			default:
				logger.Warn("Realtime subscriber is slow, change dropped",
					"user_id", userID,
					"table", change.Table,
					"subscription_id", sub.ID)
			}
		}
	}
}

// Subscribers - число активных подписок пользователя
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
