package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Read   bool   `json:"read"`
}

func TestHub_DeliversToAudienceOnly(t *testing.T) {
	hub := NewHub(4)
	alice, err := hub.Subscribe("alice", "notifications", "")
	require.NoError(t, err)
	bob, err := hub.Subscribe("bob", "notifications", "")
	require.NoError(t, err)

	hub.Publish(context.Background(), NewChange("notifications", EventInsert, nil, row{ID: "n1", UserID: "alice"}), "alice")

	select {
	case c := <-alice.C:
		assert.Equal(t, EventInsert, c.Event)
	default:
		t.Fatal("alice should receive the change")
	}
	assert.Empty(t, bob.C)
}

func TestHub_FilterAndTable(t *testing.T) {
	hub := NewHub(4)
	unread, err := hub.Subscribe("u", "notifications", "read=false")
	require.NoError(t, err)
	gigs, err := hub.Subscribe("u", "gigs", "")
	require.NoError(t, err)

	hub.Deliver(NewChange("notifications", EventInsert, nil, row{ID: "n1", Read: true}), []string{"u"})
	hub.Deliver(NewChange("notifications", EventInsert, nil, row{ID: "n2"}), []string{"u", "u"})

	require.Len(t, unread.C, 1)
	c := <-unread.C
	var got row
	require.NoError(t, json.Unmarshal(c.New, &got))
	assert.Equal(t, "n2", got.ID)
	assert.Empty(t, gigs.C)
}

func TestHub_CloseIsIdempotentAndSlowSubscriberSkipped(t *testing.T) {
	hub := NewHub(1)
	sub, err := hub.Subscribe("u", "notifications", "")
	require.NoError(t, err)

	hub.Deliver(NewChange("notifications", EventInsert, nil, row{ID: "1"}), []string{"u"})
	hub.Deliver(NewChange("notifications", EventInsert, nil, row{ID: "2"}), []string{"u"})
	assert.Len(t, sub.C, 1)

	sub.Close()
	sub.Close()
	assert.Zero(t, hub.Subscribers("u"))
}

func TestParseFilter_Invalid(t *testing.T) {
	_, err := ParseFilter("read")
	assert.Error(t, err)
}

// Счетчик совпадает с числом непрочитанных при любой последовательности операций
func TestUnreadCounter_TracksInbox(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	inbox := map[string]bool{}
	counter := NewUnreadCounter(0)
	next := 0

	for i := 0; i < 500; i++ {
		switch op := rng.Intn(4); {
		case op == 0 || len(inbox) == 0:
			next++
			id := fmt.Sprintf("n%d", next)
			inbox[id] = false
			counter.Apply(NewChange("notifications", EventInsert, nil, row{ID: id}))
		case op == 1:
			id := pick(rng, inbox)
			if !inbox[id] {
				inbox[id] = true
				counter.Apply(NewChange("notifications", EventUpdate, row{ID: id}, row{ID: id, Read: true}))
			}
		case op == 2:
			// пометить все прочитанными
			for id, read := range inbox {
				if !read {
					inbox[id] = true
					counter.Apply(NewChange("notifications", EventUpdate, row{ID: id}, row{ID: id, Read: true}))
				}
			}
		default:
			id := pick(rng, inbox)
			counter.Apply(NewChange("notifications", EventDelete, row{ID: id, Read: inbox[id]}, nil))
			delete(inbox, id)
		}

		var want int64
		for _, read := range inbox {
			if !read {
				want++
			}
		}
		require.Equal(t, want, counter.Value(), "step %d", i)
	}
}

func TestUnreadCounter_NeverNegative(t *testing.T) {
	c := NewUnreadCounter(0)
	n, changed := c.Apply(NewChange("notifications", EventDelete, row{ID: "x"}, nil))
	assert.Zero(t, n)
	assert.False(t, changed)
}

func pick(rng *rand.Rand, m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// порядок map случаен, сортировка делает тест воспроизводимым
	sort.Strings(keys)
	return keys[rng.Intn(len(keys))]
}
