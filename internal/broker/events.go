package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"locker-service/internal/models"
	"locker-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes rental lifecycle events. Failed reconciliations go
// to a separate topic read by the recovery worker.
type EventPublisher struct {
	rental   *Producer
	recovery *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(rental, recovery *Producer) *EventPublisher {
	return &EventPublisher{rental: rental, recovery: recovery}
}

func orderKey(orderID string) string {
	return "order-" + orderID
}

func slotKey(locationID, slotID string) string {
	return fmt.Sprintf("slot-%s-%s", locationID, slotID)
}

// PublishRentalInitiated publishes RentalInitiated event
func (ep *EventPublisher) PublishRentalInitiated(ctx context.Context, event *models.RentalInitiatedEvent) error {
	return ep.rental.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishRentalSettled publishes RentalSettled event
func (ep *EventPublisher) PublishRentalSettled(ctx context.Context, event *models.RentalSettledEvent) error {
	return ep.rental.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishRentalAbandoned publishes RentalAbandoned event
func (ep *EventPublisher) PublishRentalAbandoned(ctx context.Context, event *models.RentalAbandonedEvent) error {
	return ep.rental.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOccupancyReleased publishes OccupancyReleased event keyed by slot
func (ep *EventPublisher) PublishOccupancyReleased(ctx context.Context, event *models.OccupancyReleasedEvent) error {
	return ep.rental.PublishEvent(ctx, slotKey(event.LocationID, event.SlotID), event.EventType, event)
}

// PublishReconcileFailed publishes ReconcileFailed event to the recovery topic
func (ep *EventPublisher) PublishReconcileFailed(ctx context.Context, event *models.ReconcileFailedEvent) error {
	return ep.recovery.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onReconcileFailed func(context.Context, *models.ReconcileFailedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnReconcileFailed registers a handler for ReconcileFailed events
func (eh *EventHandler) OnReconcileFailed(handler func(context.Context, *models.ReconcileFailedEvent) error) {
	eh.onReconcileFailed = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable messages
// are dropped, since redelivering them can never succeed.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("Dropping undecodable message", zap.String("key", string(msg.Key)), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeReconcileFailed:
		if eh.onReconcileFailed == nil {
			return nil
		}
		var event models.ReconcileFailedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			eh.logger.Error("Dropping malformed ReconcileFailed event", zap.String("event_id", baseEvent.EventID), zap.Error(err))
			return nil
		}
		return eh.onReconcileFailed(ctx, &event)

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
