package sampler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shaunagostinho/uart-sampler/internal/link"
)

const (
	// DefaultCapacity is the sample buffer size.
	DefaultCapacity = 20
	// DefaultAlternateOffset is where every fourth alternating read lands.
	DefaultAlternateOffset = 8

	cyclePeriod = 4
)

// ErrInvalidRegion reports a receiver configuration whose read regions do
// not fit inside the sample buffer.
var ErrInvalidRegion = errors.New("read region outside sample buffer")

// Sample is the outcome of one receive cycle.
type Sample struct {
	Seq      uint64    `json:"seq"`
	Strategy Strategy  `json:"strategy"`
	Start    int       `json:"start"`   // First byte of the target region
	End      int       `json:"end"`     // One past the last byte of the target region
	N        int       `json:"n"`       // Bytes captured
	Counter  uint8     `json:"counter"` // Cycle counter after the read
	Data     []byte    `json:"data"`    // Whole buffer, unread bytes zero
	Time     time.Time `json:"time"`
}

// Reporter consumes samples after each cycle. Implementations must not block
// the receive loop for long.
type Reporter interface {
	Record(Sample)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Sample)

// Record implements Reporter.
func (f ReporterFunc) Record(s Sample) { f(s) }

// ReceiverConfig holds buffer geometry for a Receiver.
type ReceiverConfig struct {
	Strategy        Strategy
	Capacity        int // Sample buffer size
	DataLen         int // Expected payload length, used by fixed-length reads
	AlternateOffset int // Destination of every fourth alternating read
}

// Receiver is the receive loop. It owns the sample buffer and the cycle
// counter; neither is shared with any other goroutine.
type Receiver struct {
	rx        link.Reader
	strategy  Strategy
	dataLen   int
	altOffset int
	reporters []Reporter

	buf   []byte
	cycle uint8
	seq   uint64
}

// NewReceiver validates cfg and creates a Receiver reading from rx.
func NewReceiver(rx link.Reader, cfg ReceiverConfig, reporters ...Reporter) (*Receiver, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	switch {
	case cfg.Strategy < FixedLength || cfg.Strategy > AlternatingUntilIdle:
		return nil, fmt.Errorf("sampler: unknown strategy %v", cfg.Strategy)
	case cfg.Capacity < 0:
		return nil, fmt.Errorf("sampler: capacity %d: %w", cfg.Capacity, ErrInvalidRegion)
	case cfg.DataLen <= 0 || cfg.DataLen > cfg.Capacity:
		return nil, fmt.Errorf("sampler: data length %d with capacity %d: %w", cfg.DataLen, cfg.Capacity, ErrInvalidRegion)
	}
	if cfg.Strategy.Alternates() {
		end := cfg.Capacity
		if !cfg.Strategy.IdleTerminated() {
			end = cfg.AlternateOffset + cfg.DataLen
		}
		if cfg.AlternateOffset < 0 || cfg.AlternateOffset >= cfg.Capacity || end > cfg.Capacity {
			return nil, fmt.Errorf("sampler: alternate offset %d (data length %d, capacity %d): %w",
				cfg.AlternateOffset, cfg.DataLen, cfg.Capacity, ErrInvalidRegion)
		}
	}
	return &Receiver{
		rx:        rx,
		strategy:  cfg.Strategy,
		dataLen:   cfg.DataLen,
		altOffset: cfg.AlternateOffset,
		reporters: reporters,
		buf:       make([]byte, cfg.Capacity),
		cycle:     1,
	}, nil
}

// Run repeats Cycle until a read fails or ctx is done.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		if _, err := r.Cycle(ctx); err != nil {
			return err
		}
	}
}

// Cycle performs one reset, dispatch, read and report.
func (r *Receiver) Cycle(ctx context.Context) (Sample, error) {
	log.Printf("[receiver] resetting buffer")
	clear(r.buf)

	start, end, alternate := r.target()
	if r.strategy.Alternates() {
		log.Printf("[receiver] reading into address %d", start)
	}

	region := r.buf[start:end]
	var n int
	if r.strategy.IdleTerminated() {
		var err error
		if n, err = r.rx.ReadUntilIdle(ctx, region); err != nil {
			return Sample{}, fmt.Errorf("receiver: %w", err)
		}
		if n > len(region) {
			return Sample{}, fmt.Errorf("receiver: %d bytes reported for %d byte region: %w", n, len(region), link.ErrOverrun)
		}
	} else {
		if err := r.rx.ReadExact(ctx, region); err != nil {
			return Sample{}, fmt.Errorf("receiver: %w", err)
		}
		n = len(region)
	}
	r.advance(alternate)

	r.seq++
	s := Sample{
		Seq:      r.seq,
		Strategy: r.strategy,
		Start:    start,
		End:      end,
		N:        n,
		Counter:  r.cycle,
		Data:     append([]byte(nil), r.buf...),
		Time:     time.Now(),
	}
	log.Printf("[receiver] read %d bytes: %s", n, FormatHex(s.Data))
	for _, rep := range r.reporters {
		rep.Record(s)
	}
	return s, nil
}

// target returns the region for the next read and whether it is the
// alternate-offset read of the cycle.
func (r *Receiver) target() (start, end int, alternate bool) {
	alternate = r.strategy.Alternates() && r.cycle%cyclePeriod == 0
	if alternate {
		start = r.altOffset
	}
	if r.strategy.IdleTerminated() {
		return start, len(r.buf), alternate
	}
	return start, start + r.dataLen, alternate
}

func (r *Receiver) advance(alternate bool) {
	if !r.strategy.Alternates() {
		return
	}
	if alternate {
		r.cycle = 1
	} else {
		r.cycle++
	}
}
