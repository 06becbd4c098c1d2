package worker

import (
	"context"
	"log"

	"listing-aggregator/internal/broker"
	"listing-aggregator/internal/service"
)

// AnalysisWorker handles background analysis requests from the queue
type AnalysisWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewAnalysisWorker creates a new analysis worker
func NewAnalysisWorker(
	consumer *broker.Consumer,
	analyzer *service.BackgroundAnalyzer,
) *AnalysisWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnAnalysisRequested(analyzer.HandleAnalysisRequested)

	return &AnalysisWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *AnalysisWorker) Start(ctx context.Context) error {
	log.Println("Starting analysis worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AnalysisWorker) Stop() error {
	log.Println("Stopping analysis worker...")
	return w.consumer.Close()
}
