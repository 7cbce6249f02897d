package live

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/flight-weather/internal/model"
	"github.com/i474232898/flight-weather/internal/mqttbroker"
	"github.com/i474232898/flight-weather/internal/notify"
)

func startBroker(t *testing.T, bind string) *mqttbroker.Broker {
	t.Helper()
	b := mqttbroker.New(nil)
	_, err := b.Start(bind)
	require.NoError(t, err)
	t.Cleanup(func() { b.Stop() })
	return b
}

func publish(t *testing.T, b *mqttbroker.Broker, id string, temp float64) {
	t.Helper()
	msg := notify.Tag(model.ForecastSubscription{ID: id, Temperature: temp}, fmt.Sprintf("m-%s-%v", id, temp))
	require.NoError(t, notify.NewBrokerSink(b).Publish(context.Background(), msg))
}

func TestWatchReceivesUpdates(t *testing.T) {
	b := startBroker(t, "127.0.0.1:0")

	var callbacks atomic.Int32
	c, err := Connect(Options{
		BrokerURL: "tcp://" + b.Addr().String(),
		ClientID:  "watcher",
		OnUpdate:  func(model.UpdateMessage) { callbacks.Add(1) },
	})
	require.NoError(t, err)
	defer c.Close()

	added, err := c.Watch("f1", "f2")
	require.NoError(t, err)
	assert.Equal(t, []string{"ForecastSubscription/f1", "ForecastSubscription/f2"}, added)

	publish(t, b, "f1", 71)
	publish(t, b, "unwatched", 1)

	require.Eventually(t, func() bool { return len(c.Messages()) == 1 }, 3*time.Second, 20*time.Millisecond)
	msg := c.Messages()[0]
	assert.Equal(t, "f1", msg.ID)
	assert.Equal(t, 71.0, msg.Temperature)
	assert.NotEmpty(t, msg.MessageID)
	require.NotNil(t, msg.ReceivedAt)
	assert.Equal(t, int32(1), callbacks.Load())
}

func TestWatchOnlyAddsNewTopics(t *testing.T) {
	b := startBroker(t, "127.0.0.1:0")
	c, err := Connect(Options{BrokerURL: "tcp://" + b.Addr().String(), ClientID: "grow"})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Watch("a")
	require.NoError(t, err)
	added, err := c.Watch("a", "b", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ForecastSubscription/b"}, added)

	added, err = c.Watch("b")
	require.NoError(t, err)
	assert.Empty(t, added)

	assert.Equal(t, []string{"ForecastSubscription/a", "ForecastSubscription/b"}, c.Topics())
}

func TestResubscribesAfterReconnect(t *testing.T) {
	first := mqttbroker.New(nil)
	_, err := first.Start("127.0.0.1:0")
	require.NoError(t, err)
	addr := first.Addr().String()

	c, err := Connect(Options{BrokerURL: "tcp://" + addr, ClientID: "reconnect"})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Watch("r1")
	require.NoError(t, err)

	require.NoError(t, first.Stop())
	second := startBroker(t, addr)

	require.Eventually(t, func() bool {
		publish(t, second, "r1", 5)
		return len(c.Messages()) > 0
	}, 15*time.Second, 200*time.Millisecond)
	assert.Equal(t, "r1", c.Messages()[0].ID)
}

func TestConnectFailure(t *testing.T) {
	b := startBroker(t, "127.0.0.1:0")
	addr := b.Addr().String()
	require.NoError(t, b.Stop())

	done := make(chan error, 1)
	go func() {
		_, err := Connect(Options{BrokerURL: "tcp://" + addr, ClientID: "nobody", ConnectTimeout: time.Second})
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not give up")
	}
}
