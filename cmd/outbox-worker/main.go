package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/campushub/records-outbox/pkg/broker"
	"github.com/campushub/records-outbox/pkg/config"
	"github.com/campushub/records-outbox/pkg/outbox"
	"github.com/campushub/records-outbox/pkg/store"
	"github.com/campushub/records-outbox/pkg/telemetry"
)

func main() {
	ctx := context.Background()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/outbox-worker")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	// Initialize telemetry
	shutdownTelemetry, err := telemetry.Init(cfg.Observability)
	if err != nil {
		log.Fatal("Failed to initialize telemetry: ", err)
	}
	defer shutdownTelemetry()

	// Initialize the event store
	repo, err := store.NewStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize event store: ", err)
	}

	// Initialize the message broker
	b, err := broker.NewBroker(ctx, &cfg.Broker)
	if err != nil {
		log.Fatal("Failed to initialize broker: ", err)
	}
	defer b.Close()

	// Wire the publisher and route the configured event types to the broker
	publisher := outbox.NewPublisher(repo, cfg)
	for _, eventType := range cfg.Broker.EventTypes {
		publisher.RegisterDeliveryHandler(eventType, broker.Handler(b))
	}

	publisher.Start()
	log.Printf("outbox worker started (interval %s, batch size %d)",
		cfg.Outbox.ProcessingInterval, cfg.Outbox.BatchSize)

	// Run until interrupted, then let any in-flight poll cycle finish
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	publisher.Stop()
	log.Println("outbox worker stopped")
}
