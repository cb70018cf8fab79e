package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/economykit/balance-sync/internal/interfaces"
)

const (
	counterKeyPrefix = "economy:counter:"

	connectedChannel    = "economy:counter:connected"
	disconnectedChannel = "economy:counter:disconnected"
	changedChannel      = "economy:counter:changed"
)

// Source reads and writes live counters held in redis and translates
// the owning subsystem's pub/sub announcements into counter
// notifications. Redis executes commands on a single thread, so it is
// the counter-owning execution context; every Get/Set is one marshaled
// round trip onto it.
type Source struct {
	rdb    *redis.Client
	logger *zap.Logger

	pubsub        *redis.PubSub
	notifications chan interfaces.CounterEvent
}

func NewSource(rdb *redis.Client, logger *zap.Logger) *Source {
	return &Source{
		rdb:           rdb,
		logger:        logger,
		notifications: make(chan interfaces.CounterEvent, 64),
	}
}

// notification is the wire form used on all three pub/sub channels.
type notification struct {
	OwnerID string `json:"owner_id"`
	Value   uint64 `json:"value"`
}

func (s *Source) Get(ctx context.Context, ownerID string) (uint64, error) {
	value, err := s.rdb.Get(ctx, counterKeyPrefix+ownerID).Uint64()
	if err == redis.Nil {
		return 0, interfaces.ErrCounterUnavailable
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", interfaces.ErrCounterUnavailable, err)
	}
	return value, nil
}

func (s *Source) Set(ctx context.Context, ownerID string, value uint64) error {
	if err := s.rdb.Set(ctx, counterKeyPrefix+ownerID, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrCounterUnavailable, err)
	}

	// Announce the write the same way the external owner does. Our own
	// coordinator sees it come back and suppresses it as an echo.
	payload, err := json.Marshal(notification{OwnerID: ownerID, Value: value})
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, changedChannel, payload).Err(); err != nil {
		s.logger.Warn("announce counter write",
			zap.String("owner_id", ownerID),
			zap.Error(err))
	}
	return nil
}

// Start subscribes to the counter notification channels and feeds them
// into Notifications until ctx is cancelled.
func (s *Source) Start(ctx context.Context) error {
	s.pubsub = s.rdb.Subscribe(ctx, connectedChannel, disconnectedChannel, changedChannel)

	// wait for the subscription to be confirmed
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe counter channels: %w", err)
	}

	go s.listen(ctx)
	return nil
}

func (s *Source) listen(ctx context.Context) {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.pubsub.Close()
			close(s.notifications)
			return

		case msg, ok := <-ch:
			if !ok {
				close(s.notifications)
				return
			}

			var n notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				s.logger.Warn("parse counter notification",
					zap.String("channel", msg.Channel),
					zap.Error(err))
				continue
			}

			event := interfaces.CounterEvent{OwnerID: n.OwnerID, Value: n.Value}
			switch msg.Channel {
			case connectedChannel:
				event.Kind = interfaces.CounterConnected
			case disconnectedChannel:
				event.Kind = interfaces.CounterDisconnected
			case changedChannel:
				event.Kind = interfaces.CounterChanged
			default:
				continue
			}

			select {
			case s.notifications <- event:
			case <-ctx.Done():
			}
		}
	}
}

func (s *Source) Notifications() <-chan interfaces.CounterEvent {
	return s.notifications
}

var _ interfaces.CounterSource = (*Source)(nil)
var _ interfaces.CounterFeed = (*Source)(nil)
