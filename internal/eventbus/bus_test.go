package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, TypeStatusChanged)
	defer unsubOnly()

	b.Publish(Event{Type: TypeDispatchCompleted, Data: DispatchCompleted{Sent: 1}})
	b.Publish(Event{Type: TypeStatusChanged, Data: StatusChanged{RecordID: 7, To: "test_pass"}})

	require.Len(t, all, 2)
	require.Len(t, only, 1)
	e := <-only
	assert.Equal(t, int64(7), e.Data.(StatusChanged).RecordID)
	assert.False(t, e.Time.IsZero())
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: TypeProjectsSynced})
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: TypeDispatchCompleted})
	assert.Zero(t, b.Dropped())
}
