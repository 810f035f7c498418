package realtime

import (
	"sync"

	"github.com/tidwall/gjson"
)

const readField = "read"

// UnreadCounter ведет счетчик непрочитанных по потоку изменений notifications.
// Начальное значение берется из БД при подключении.
type UnreadCounter struct {
	mu    sync.Mutex
	count int64
}

func NewUnreadCounter(seed int64) *UnreadCounter {
	if seed < 0 {
		seed = 0
	}
	return &UnreadCounter{count: seed}
}

// Apply учитывает изменение и сообщает, поменялся ли счетчик
func (u *UnreadCounter) Apply(c Change) (int64, bool) {
	delta := unreadDelta(c)

	u.mu.Lock()
	defer u.mu.Unlock()
	before := u.count
	u.count += delta
	if u.count < 0 {
		u.count = 0
	}
	return u.count, u.count != before
}

func (u *UnreadCounter) Value() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

func unreadDelta(c Change) int64 {
	switch c.Event {
	case EventInsert:
		if isUnread(c.New) {
			return 1
		}
	case EventUpdate:
		if len(c.Old) == 0 || len(c.New) == 0 {
			return 0
		}
		wasUnread, nowUnread := isUnread(c.Old), isUnread(c.New)
		switch {
		case wasUnread && !nowUnread:
			return -1
		case !wasUnread && nowUnread:
			return 1
		}
	case EventDelete:
		if isUnread(c.Old) {
			return -1
		}
	}
	return 0
}

func isUnread(row []byte) bool {
	if len(row) == 0 {
		return false
	}
	return !gjson.GetBytes(row, readField).Bool()
}
