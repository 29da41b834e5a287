package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"babaphone/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventsChannel = "babaphone:events"

// Event tells other relay instances that something was queued for a device.
type Event struct {
	InstanceID string          `json:"instance_id"`
	DeviceID   domain.DeviceID `json:"device_id"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EventBus is a Notifier that wakes local subscribers directly and
// broadcasts over Redis pub/sub so subscribers on other instances wake too.
type EventBus struct {
	client     *redis.Client
	instanceID string
	local      *LocalNotifier
	logger     *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		local:      NewLocalNotifier(),
		logger:     logger,
	}
}

func (eb *EventBus) Notify(ctx context.Context, id domain.DeviceID) {
	eb.local.Notify(ctx, id)

	if err := eb.publish(ctx, id); err != nil {
		eb.logger.Warnw("failed to publish event",
			"device_id", id,
			"error", err,
		)
	}
}

func (eb *EventBus) Subscribe(id domain.DeviceID) (<-chan struct{}, func()) {
	return eb.local.Subscribe(id)
}

func (eb *EventBus) publish(ctx context.Context, id domain.DeviceID) error {
	data, err := json.Marshal(&Event{
		InstanceID: eb.instanceID,
		DeviceID:   id,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return eb.client.Publish(ctx, eventsChannel, data).Err()
}

// Run relays events from other instances to local subscribers until ctx
// is done.
func (eb *EventBus) Run(ctx context.Context) error {
	pubsub := eb.client.Subscribe(ctx, eventsChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eventsChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			eb.local.Notify(ctx, event.DeviceID)
		}
	}
}
