package link

import (
	"context"
	"sync"
	"time"
)

const loopbackName = "loopback"

// Loopback is an in-memory wire: bytes written to its transmit half arrive on
// its receive half. It backs demo mode and tests, and can inject bytes from
// a simulated remote end as well as transport faults.
type Loopback struct {
	idle     time.Duration
	wire     chan byte
	rxFaults chan error
	txFaults chan error

	closeOnce sync.Once
	closed    chan struct{}
}

// LoopbackTx is the transmit half of a Loopback.
type LoopbackTx struct{ l *Loopback }

// LoopbackRx is the receive half of a Loopback.
type LoopbackRx struct{ l *Loopback }

// NewLoopback creates a loopback wire with the given idle interval.
func NewLoopback(idle time.Duration) *Loopback {
	if idle <= 0 {
		idle = defaultIdle
	}
	return &Loopback{
		idle:     idle,
		wire:     make(chan byte, 4096),
		rxFaults: make(chan error, 1),
		txFaults: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

// Split returns the two halves of the link.
func (l *Loopback) Split() (*LoopbackTx, *LoopbackRx) {
	return &LoopbackTx{l: l}, &LoopbackRx{l: l}
}

// Inject puts bytes on the wire as if a remote peer had sent them.
func (l *Loopback) Inject(p []byte) {
	for _, b := range p {
		l.wire <- b
	}
}

// FailRead makes the next receive operation fail with err.
func (l *Loopback) FailRead(err error) {
	select {
	case l.rxFaults <- err:
	default:
	}
}

// FailWrite makes the next transmit operation fail with err.
func (l *Loopback) FailWrite(err error) {
	select {
	case l.txFaults <- err:
	default:
	}
}

// Close disconnects both halves.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// Write implements Writer.
func (t *LoopbackTx) Write(ctx context.Context, p []byte) error {
	l := t.l
	select {
	case err := <-l.txFaults:
		return &Error{Op: OpWrite, Port: loopbackName, Err: err}
	case <-l.closed:
		return &Error{Op: OpWrite, Port: loopbackName, Err: ErrClosed}
	default:
	}
	for _, b := range p {
		select {
		case l.wire <- b:
		case <-l.closed:
			return &Error{Op: OpWrite, Port: loopbackName, Err: ErrClosed}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// next receives one byte. A nil quiet channel waits indefinitely; ok is
// false with a nil error when quiet fired first.
func (l *Loopback) next(ctx context.Context, op string, quiet <-chan time.Time) (b byte, ok bool, err error) {
	select {
	case err := <-l.rxFaults:
		return 0, false, &Error{Op: op, Port: loopbackName, Err: err}
	default:
	}
	select {
	case b := <-l.wire:
		return b, true, nil
	case err := <-l.rxFaults:
		return 0, false, &Error{Op: op, Port: loopbackName, Err: err}
	case <-l.closed:
		return 0, false, &Error{Op: op, Port: loopbackName, Err: ErrClosed}
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case <-quiet:
		return 0, false, nil
	}
}

// ReadExact implements Reader.
func (r *LoopbackRx) ReadExact(ctx context.Context, p []byte) error {
	for i := range p {
		b, _, err := r.l.next(ctx, OpRead, nil)
		if err != nil {
			return err
		}
		p[i] = b
	}
	return nil
}

// ReadUntilIdle implements Reader.
func (r *LoopbackRx) ReadUntilIdle(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, _, err := r.l.next(ctx, OpReadUntilIdle, nil)
	if err != nil {
		return 0, err
	}
	p[0] = b
	n := 1
	for n < len(p) {
		b, ok, err := r.l.next(ctx, OpReadUntilIdle, time.After(r.l.idle))
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		p[n] = b
		n++
	}
	return n, nil
}
