package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"listing-aggregator/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSearchPerformed publishes a SearchPerformed event
func (ep *EventPublisher) PublishSearchPerformed(ctx context.Context, event *models.SearchPerformedEvent) error {
	key := fmt.Sprintf("search-%s", event.QueryHash)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishAnalysisRequested publishes an AnalysisRequested event
func (ep *EventPublisher) PublishAnalysisRequested(ctx context.Context, event *models.AnalysisRequestedEvent) error {
	key := fmt.Sprintf("analysis-%s-%d", event.QueryHash, event.Page)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPageAnalyzed publishes a PageAnalyzed event
func (ep *EventPublisher) PublishPageAnalyzed(ctx context.Context, event *models.PageAnalyzedEvent) error {
	key := fmt.Sprintf("analysis-%s-%d", event.QueryHash, event.Page)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishAnalysisFailed publishes an AnalysisFailed event
func (ep *EventPublisher) PublishAnalysisFailed(ctx context.Context, event *models.AnalysisFailedEvent) error {
	key := fmt.Sprintf("analysis-%s-%d", event.QueryHash, event.Page)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming events to registered handlers
type EventHandler struct {
	onAnalysisRequested func(context.Context, *models.AnalysisRequestedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnAnalysisRequested registers a handler for AnalysisRequested events
func (eh *EventHandler) OnAnalysisRequested(handler func(context.Context, *models.AnalysisRequestedEvent) error) {
	eh.onAnalysisRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeAnalysisRequested:
		if eh.onAnalysisRequested != nil {
			var event models.AnalysisRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AnalysisRequested event: %w", err)
			}
			return eh.onAnalysisRequested(ctx, &event)
		}

	case models.EventTypeSearchPerformed, models.EventTypePageAnalyzed, models.EventTypeAnalysisFailed:
		// Telemetry events, consumed elsewhere.

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
