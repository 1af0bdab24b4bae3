// File: internal/events/bus_test.go
package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cartpilot-cli/api/schemas"
)

func setupBus(t *testing.T, bufferSize int) *Bus {
	t.Helper()
	bus := NewBus(zaptest.NewLogger(t), bufferSize)
	t.Cleanup(func() {
		if !bus.isShutdown {
			bus.Shutdown()
		}
	})
	return bus
}

func TestBus_PublishSubscribe_HappyPath(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := setupBus(t, 10)
	ctx := context.Background()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	event := schemas.PageEvent{
		Kind:  schemas.EventPageLoaded,
		TabID: "tab-1",
		URL:   "https://shop.example/s?k=phone",
	}
	require.NoError(t, bus.Publish(ctx, event))

	select {
	case env := <-ch:
		assert.Equal(t, event, env.Event)
		assert.NotEmpty(t, env.ID, "bus should enrich delivery with ID")
		assert.False(t, env.Timestamp.IsZero(), "bus should enrich delivery with timestamp")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event delivery")
	}
}

func TestBus_Filtering(t *testing.T) {
	bus := setupBus(t, 10)
	ctx := context.Background()

	loadedCh, unsubLoaded := bus.Subscribe(schemas.EventPageLoaded)
	defer unsubLoaded()
	queryCh, unsubQuery := bus.Subscribe(schemas.EventQuerySubmitted)
	defer unsubQuery()

	require.NoError(t, bus.Publish(ctx, schemas.PageEvent{Kind: schemas.EventPageLoaded, TabID: "tab-1"}))

	select {
	case env := <-loadedCh:
		assert.Equal(t, schemas.EventPageLoaded, env.Event.Kind)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for filtered delivery")
	}

	select {
	case env := <-queryCh:
		t.Fatalf("subscriber received event outside its filter: %v", env.Event.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := setupBus(t, 10)
	assert.NoError(t, bus.Publish(context.Background(), schemas.PageEvent{Kind: schemas.EventPageLoaded}))
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := setupBus(t, 10)
	ctx := context.Background()

	ch, unsubscribe := bus.Subscribe(schemas.EventPageLoaded)
	unsubscribe()

	// Channel should be closed after unsubscribe.
	_, open := <-ch
	assert.False(t, open)

	// A second call must be a no-op, not a double close.
	assert.NotPanics(t, unsubscribe)

	assert.NoError(t, bus.Publish(ctx, schemas.PageEvent{Kind: schemas.EventPageLoaded}))
}

func TestBus_SubscribeAfterShutdown(t *testing.T) {
	bus := setupBus(t, 10)
	bus.Shutdown()

	ch, unsubscribe := bus.Subscribe(schemas.EventPageLoaded)

	// The channel must already be closed so a ranging receiver terminates.
	_, open := <-ch
	assert.False(t, open)
	assert.NotPanics(t, unsubscribe)
}

func TestBus_PublishAfterShutdown(t *testing.T) {
	bus := setupBus(t, 10)
	bus.Shutdown()

	err := bus.Publish(context.Background(), schemas.PageEvent{Kind: schemas.EventPageLoaded})
	assert.Error(t, err)
}

func TestBus_ShutdownUnblocksPublisher(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := setupBus(t, 1)
	ctx := context.Background()

	_, _ = bus.Subscribe(schemas.EventPageLoaded)

	// Fill the single-slot buffer so the next publish blocks.
	require.NoError(t, bus.Publish(ctx, schemas.PageEvent{Kind: schemas.EventPageLoaded, TabID: "a"}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Blocked until Shutdown closes the channel; must return an error
		// rather than hang or panic.
		err := bus.Publish(ctx, schemas.PageEvent{Kind: schemas.EventPageLoaded, TabID: "b"})
		assert.Error(t, err)
	}()

	time.Sleep(50 * time.Millisecond)
	bus.Shutdown()
	wg.Wait()
}

func TestBus_ContextCancellationUnblocksPublisher(t *testing.T) {
	bus := setupBus(t, 1)

	_, unsubscribe := bus.Subscribe(schemas.EventPageLoaded)
	defer unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), schemas.PageEvent{Kind: schemas.EventPageLoaded}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := bus.Publish(ctx, schemas.PageEvent{Kind: schemas.EventPageLoaded})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
