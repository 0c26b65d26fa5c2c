package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func sampleEvent(typ string) Event {
	return Event{
		ID:          "evt-1",
		Type:        typ,
		OccurredAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		TenantID:    "acme",
		PrincipalID: "p-1",
		Data:        map[string]string{"provider": "google"},
	}
}

func TestDispatcherDeliversAfterClose(t *testing.T) {
	pub := NewChannelPublisher(8)
	d := NewDispatcher(DispatcherConfig{BufferSize: 8}, pub, nil)

	d.Dispatch(context.Background(), sampleEvent(TypePrincipalLoggedIn), sampleEvent(TypeRefreshTokenRotated))
	d.Close()

	got := []string{(<-pub.Events()).Type, (<-pub.Events()).Type}
	assert.Equal(t, []string{TypePrincipalLoggedIn, TypeRefreshTokenRotated}, got)

	published, failed, dropped := d.Stats()
	assert.Equal(t, uint64(2), published)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)

	d.Dispatch(context.Background(), sampleEvent(TypeMFAEnabled))
	select {
	case ev := <-pub.Events():
		t.Fatalf("closed dispatcher delivered %s", ev.Type)
	default:
	}
}

type blockingPublisher struct {
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func (b *blockingPublisher) Publish(ctx context.Context, _ Event) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{}), started: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, pub, nil)

	d.Dispatch(context.Background(), sampleEvent("a"))
	<-pub.started
	d.Dispatch(context.Background(), sampleEvent("b"), sampleEvent("c"), sampleEvent("d"))

	close(pub.release)
	d.Close()

	_, _, dropped := d.Stats()
	assert.Equal(t, uint64(2), dropped)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("broker down") }

func TestDispatcherLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := NewDispatcher(DispatcherConfig{BufferSize: 4}, failingPublisher{}, zap.New(core))
	d.Dispatch(context.Background(), sampleEvent(TypeMFADisabled))
	d.Close()

	_, failed, _ := d.Stats()
	assert.Equal(t, uint64(1), failed)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "event publish failed", logs.All()[0].Message)
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(context.Background(), sampleEvent("x"))
	d.Close()
	p, f, dr := d.Stats()
	assert.Zero(t, p+f+dr)
}

func TestJSONWriterPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewJSONWriterPublisher(&buf)
	require.NoError(t, p.Publish(context.Background(), sampleEvent(TypeEmailVerified)))

	var decoded Event
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded))
	assert.Equal(t, TypeEmailVerified, decoded.Type)
	assert.Equal(t, "google", decoded.Data["provider"])
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))
	require.NoError(t, p.Publish(context.Background(), sampleEvent(TypeOAuthAccountLinked)))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, TypeOAuthAccountLinked, logs.All()[0].ContextMap()["event"])
}

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name+"/"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, exchange+"|"+key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(AMQPConfig{}, ch, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"auctoritas.events/topic"}, ch.declared)

	require.NoError(t, p.Publish(context.Background(), sampleEvent(TypePrincipalLoggedIn)))
	require.Len(t, ch.published, 1)
	assert.Equal(t, "auctoritas.events|auctoritas.principal.logged_in", ch.keys[0])

	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "evt-1", msg.MessageId)
	assert.Equal(t, "acme", msg.Headers["tenant_id"])

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "p-1", decoded.PrincipalID)

	ch.err = errors.New("channel closed")
	assert.Error(t, p.Publish(context.Background(), sampleEvent("x")))

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestMultiPublisher(t *testing.T) {
	a := NewChannelPublisher(1)
	m := Multi{a, failingPublisher{}, NoopPublisher{}}
	assert.Error(t, m.Publish(context.Background(), sampleEvent("x")))
	assert.Equal(t, "x", (<-a.Events()).Type)
}
