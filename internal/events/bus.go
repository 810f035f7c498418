package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"
)

// Handler обрабатывает одно событие. Ошибка или паника приводят к повтору.
type Handler func(ctx context.Context, e Event) error

// Auditor принимает доставки, которые так и не удались
type Auditor interface {
	SubscriberFailed(ctx context.Context, subscriber string, e Event, err error)
}

type subscription struct {
	name    string
	handler Handler
	types   map[Type]struct{}
}

func (s subscription) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus - синхронная шина: Publish вызывает подписчиков по порядку подписки
type Bus struct {
	mu          sync.RWMutex
	subs        []subscription
	maxAttempts int
	auditor     Auditor
}

func NewBus(maxAttempts int, auditor Auditor) *Bus {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Bus{maxAttempts: maxAttempts, auditor: auditor}
}

// Subscribe регистрирует обработчик; без types он получает все события
func (b *Bus) Subscribe(name string, h Handler, types ...Type) {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	b.mu.Lock()
	b.subs = append(b.subs, subscription{name: name, handler: h, types: set})
	b.mu.Unlock()
}

// Publish доставляет событие всем подписчикам. Ошибки подписчиков не возвращаются,
// ошибка возможна только при отмене контекста до начала доставки.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.wants(e.Type) {
			continue
		}
		b.deliver(ctx, s, e)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, s subscription, e Event) {
	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		lastErr = invoke(ctx, s.handler, e)
		if lastErr == nil {
			return
		}
		logger.CtxWarn(ctx, "Subscriber failed",
			"subscriber", s.name,
			"event_type", string(e.Type),
			"event_id", e.ID,
			"attempt", attempt,
			"error", lastErr)
	}

	metrics.RecordSubscriberFailure(s.name)
	logger.CtxError(ctx, "Subscriber gave up",
		"subscriber", s.name,
		"event_type", string(e.Type),
		"event_id", e.ID,
		"error", lastErr)
	if b.auditor != nil {
		b.auditor.SubscriberFailed(ctx, s.name, e, lastErr)
	}
}

func invoke(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, e)
}
