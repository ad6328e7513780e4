package sampler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shaunagostinho/uart-sampler/internal/link"
)

// DefaultPeriod is the transmit cadence.
const DefaultPeriod = time.Second

// DefaultPayload is sent when no payload is configured.
var DefaultPayload = []byte{0xCA, 0xFE, 0xBA, 0xBE, 0xDA, 0xDA}

// Transmitter is the transmit loop: one write of the payload per tick.
type Transmitter struct {
	tx      link.Writer
	payload []byte
	period  time.Duration
}

// NewTransmitter creates a Transmitter. The payload is copied and never
// modified afterwards.
func NewTransmitter(tx link.Writer, payload []byte, period time.Duration) (*Transmitter, error) {
	if len(payload) == 0 {
		return nil, errors.New("sampler: empty payload")
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Transmitter{
		tx:      tx,
		payload: append([]byte(nil), payload...),
		period:  period,
	}, nil
}

// Payload returns a copy of the outbound payload.
func (t *Transmitter) Payload() []byte { return append([]byte(nil), t.payload...) }

// Run sends the payload on every tick until a write fails or ctx is done.
func (t *Transmitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Send(ctx); err != nil {
				return err
			}
		}
	}
}

// Send writes the payload once.
func (t *Transmitter) Send(ctx context.Context) error {
	log.Printf("[transmitter] sending data: %s", FormatHex(t.payload))
	if err := t.tx.Write(ctx, t.payload); err != nil {
		return fmt.Errorf("transmitter: %w", err)
	}
	return nil
}
