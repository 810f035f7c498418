package realtime

import (
	"context"
	"encoding/json"

	"trustwork_backend/internal/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedis создает клиент Redis
func NewRedis(addr, password string, db int) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	logger.Info("Redis client created", "addr", addr)
	return rdb
}

type envelope struct {
	Origin   string   `json:"origin"`
	Change   Change   `json:"change"`
	Audience []string `json:"audience"`
}

// RedisBridge пересылает изменения между экземплярами через pub/sub.
// Свои сообщения отбрасываются по origin: локально они уже доставлены.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	origin  string
	hub     *Hub
}

func NewRedisBridge(rdb *redis.Client, channel string, hub *Hub) *RedisBridge {
	return &RedisBridge{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
	}
}

func (b *RedisBridge) Publish(ctx context.Context, change Change, audience []string) error {
	payload, err := json.Marshal(envelope{Origin: b.origin, Change: change, Audience: audience})
	if err != nil {
		return err
	}
	return b.rdb.Publish(context.WithoutCancel(ctx), b.channel, payload).Err()
}

// Run читает канал до отмены ctx
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	logger.Info("Realtime Redis bridge started", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle([]byte(msg.Payload))
		}
	}
}

func (b *RedisBridge) handle(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn("Dropping malformed realtime envelope", "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.hub.Deliver(env.Change, env.Audience)
}
