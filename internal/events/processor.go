package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor polls the durable log and hands new events to each registered
// consumer in order. The cursor lives in memory, so a restart replays the
// log from the start: delivery is at-least-once and consumers must be
// idempotent.
type Processor struct {
	db        *Database
	consumers []Consumer
	interval  time.Duration
	cursor    uint
	batchSize int
}

func NewProcessor(db *Database, interval time.Duration, consumers ...Consumer) *Processor {
	return &Processor{
		db:        db,
		consumers: consumers,
		interval:  interval,
		batchSize: 256,
	}
}

// Start runs the dispatch loop until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "event_processor").Logger()
	logger.Info().Int("consumers", len(p.consumers)).Msg("starting event processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down event processor")
			return
		case <-ticker.C:
			if err := p.Drain(); err != nil {
				logger.Error().Err(err).Msg("event dispatch failed")
			}
		}
	}
}

// Drain dispatches every event past the cursor. The cursor only advances
// past an event once all consumers accepted it, so a failing consumer sees
// the event again on the next tick.
func (p *Processor) Drain() error {
	for {
		batch, err := p.db.After(p.cursor, p.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, event := range batch {
			for _, consumer := range p.consumers {
				if err := consumer.Handle(event); err != nil {
					log.Warn().
						Err(err).
						Str("consumer", consumer.Name()).
						Str("event_type", event.Type).
						Uint("market_id", event.MarketID).
						Msg("consumer rejected event, will retry")
					return err
				}
			}
			p.cursor = event.ID
		}
	}
}
