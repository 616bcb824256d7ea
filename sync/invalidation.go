// Package sync propagates tag invalidations between processes that share a
// backend account, so a mutation on one device refreshes the others.
package sync

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.trai.ch/zerr"

	"github.com/huykn/querysync/cache"
	"github.com/huykn/querysync/types"
)

// InvalidationEvent is an alias for types.InvalidationEvent
type InvalidationEvent = types.InvalidationEvent

// ChannelForUser returns the Pub/Sub channel for one account.
func ChannelForUser(prefix string, userID int64) string {
	return prefix + ":user:" + strconv.FormatInt(userID, 10)
}

// PubSubSynchronizer carries invalidation events over one Redis Pub/Sub
// channel per account.
type PubSubSynchronizer struct {
	client   *redis.Client
	channel  string
	deviceID string
	logger   cache.Logger
	pubsub   *redis.PubSub

	callbacksMutex sync.RWMutex
	callbacks      []func(event InvalidationEvent)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPubSubSynchronizer creates a new Pub/Sub synchronizer. Events published
// with the same deviceID are not delivered back to this process.
func NewPubSubSynchronizer(client *redis.Client, channel, deviceID string, logger cache.Logger) *PubSubSynchronizer {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &PubSubSynchronizer{
		client:    client,
		channel:   channel,
		deviceID:  deviceID,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Subscribe starts listening for invalidation events. It returns once Redis
// has confirmed the subscription.
func (ps *PubSubSynchronizer) Subscribe(ctx context.Context) error {
	pubsub := ps.client.Subscribe(ctx, ps.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return zerr.With(zerr.Wrap(err, "failed to subscribe"), "channel", ps.channel)
	}
	ps.pubsub = pubsub

	ps.wg.Add(1)
	go ps.listenForEvents()

	return nil
}

// Publish sends event to every device on the channel, stamped with our
// device ID unless the caller set a sender.
func (ps *PubSubSynchronizer) Publish(ctx context.Context, event InvalidationEvent) error {
	if event.Sender == "" {
		event.Sender = ps.deviceID
	}
	data, err := json.Marshal(event)
	if err != nil {
		return zerr.Wrap(err, "failed to encode invalidation event")
	}

	if err := ps.client.Publish(ctx, ps.channel, string(data)).Err(); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to publish invalidation event"), "channel", ps.channel)
	}
	return nil
}

// OnInvalidate registers a callback for invalidation events.
func (ps *PubSubSynchronizer) OnInvalidate(callback func(event InvalidationEvent)) {
	ps.callbacksMutex.Lock()
	defer ps.callbacksMutex.Unlock()
	ps.callbacks = append(ps.callbacks, callback)
}

// Close closes the synchronizer. It does not close the Redis client.
func (ps *PubSubSynchronizer) Close() error {
	var err error
	ps.closeOnce.Do(func() {
		close(ps.done)
		if ps.pubsub != nil {
			err = ps.pubsub.Close()
		}
		ps.wg.Wait()
	})
	return err
}

func (ps *PubSubSynchronizer) listenForEvents() {
	defer ps.wg.Done()

	ch := ps.pubsub.Channel()
	for {
		select {
		case <-ps.done:
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}
			ps.dispatch(msg.Payload)
		}
	}
}

// dispatch decodes one payload and hands it to the callbacks. Our own
// events are skipped: the mutation already invalidated locally.
func (ps *PubSubSynchronizer) dispatch(payload string) {
	var event InvalidationEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		ps.logger.Warn("PubSub: dropping malformed event", "channel", ps.channel, "error", err)
		return
	}
	if event.Sender == ps.deviceID {
		return
	}
	if !validEvent(event) {
		ps.logger.Warn("PubSub: dropping unknown event", "channel", ps.channel, "action", event.Action)
		return
	}

	ps.callbacksMutex.RLock()
	callbacks := ps.callbacks
	ps.callbacksMutex.RUnlock()
	for _, callback := range callbacks {
		callback(event)
	}
}

func validEvent(event InvalidationEvent) bool {
	switch event.Action {
	case types.Invalidate:
		return len(event.Tags) > 0
	case types.Clear:
		return true
	default:
		return false
	}
}
