package plugin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFireDeliversToListeners(t *testing.T) {
	d := NewDispatcher(time.Second)
	var mu sync.Mutex
	var got []Payload
	for i := 0; i < 2; i++ {
		d.On(HookJoin, func(_ context.Context, p Payload) {
			mu.Lock()
			got = append(got, p)
			mu.Unlock()
		})
	}
	d.Fire(HookJoin, Payload{Server: "net", Channel: "#a", Nick: "alice"})
	d.Fire(HookPart, Payload{Nick: "ignored"})
	d.Wait()

	require.Len(t, got, 2)
	assert.Equal(t, HookJoin, got[0].Hook)
	assert.Equal(t, "alice", got[0].Nick)
	assert.False(t, got[0].Time.IsZero())
}

func TestFireSurvivesPanickingListener(t *testing.T) {
	d := NewDispatcher(time.Second)
	called := make(chan struct{}, 1)
	d.On(HookRaw, func(context.Context, Payload) { panic("bad plugin") })
	d.On(HookRaw, func(context.Context, Payload) { called <- struct{}{} })
	d.Fire(HookRaw, Payload{Text: "PING"})
	d.Wait()
	assert.Len(t, called, 1)
}

func TestNilDispatcher(t *testing.T) {
	var d *Dispatcher
	d.Fire(HookClient, Payload{})
	d.Wait()
}

type fakePublisher struct {
	subjects []string
	bodies   [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, data)
	return nil
}

func TestNATSForwarderSubjects(t *testing.T) {
	f := NewNATSForwarder("nats://127.0.0.1:4222", "")
	pub := &fakePublisher{}
	f.pub = pub

	d := NewDispatcher(time.Second)
	f.Attach(d, HookMessage)
	d.Fire(HookMessage, Payload{Server: "net", Text: "hi"})
	d.Wait()

	require.Len(t, f.queue, 1)
	require.NoError(t, f.forward(<-f.queue))
	assert.Equal(t, []string{"relay.hooks.message"}, pub.subjects)

	var p Payload
	require.NoError(t, json.Unmarshal(pub.bodies[0], &p))
	assert.Equal(t, "hi", p.Text)
	assert.Equal(t, HookMessage, p.Hook)
}
