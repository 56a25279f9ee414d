package lastseen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescesUntilTaken(t *testing.T) {
	tr := New()
	t0 := time.Unix(1000, 0)
	tr.RecordChannel(Channel{URI: "net/a", Time: t0, LineID: "1"})
	tr.RecordChannel(Channel{URI: "net/a", Time: t0.Add(time.Second), LineID: "2"})
	tr.RecordUser(User{Username: "Alice", Channel: "net/a", Time: t0})
	tr.RecordUser(User{Username: "alice", Channel: "net/a", Time: t0.Add(time.Second)})
	require.True(t, tr.Dirty())

	channels, users := tr.TakeDirty()
	require.Len(t, channels, 1)
	assert.Equal(t, "2", channels[0].LineID)
	require.Len(t, users, 1)
	assert.Equal(t, t0.Add(time.Second), users[0].Time)

	assert.False(t, tr.Dirty())
	channels, users = tr.TakeDirty()
	assert.Empty(t, channels)
	assert.Empty(t, users)

	// snapshots survive the drain
	c, ok := tr.Channel("net/a")
	require.True(t, ok)
	assert.Equal(t, "2", c.LineID)
}

func TestIgnoresOlderRecords(t *testing.T) {
	tr := New()
	t0 := time.Unix(1000, 0)
	assert.True(t, tr.RecordUser(User{Username: "bob", Time: t0}))
	tr.TakeDirty()
	assert.False(t, tr.RecordUser(User{Username: "bob", Time: t0.Add(-time.Minute)}))
	assert.False(t, tr.Dirty())
	assert.False(t, tr.RecordUser(User{Time: t0}))
}

func TestLoadIsNotDirty(t *testing.T) {
	tr := New()
	tr.Load([]Channel{{URI: "net/b"}, {URI: "net/a"}}, []User{{Username: "Zed"}, {Username: "amy"}})
	assert.False(t, tr.Dirty())
	assert.Equal(t, "net/a", tr.Channels()[0].URI)
	assert.Equal(t, "amy", tr.Users()[0].Username)
	_, ok := tr.User("ZED")
	assert.True(t, ok)
}
