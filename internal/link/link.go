// Package link provides the serial transport consumed by the sampler loops.
//
// A link is split into a transmit half and a receive half so each loop owns
// exactly one direction of the wire and no locking is needed between them.
package link

import (
	"context"
	"errors"
	"fmt"
)

// Writer is the transmit half of a link.
type Writer interface {
	// Write blocks until every byte of p has been sent or an error occurs.
	Write(ctx context.Context, p []byte) error
}

// Reader is the receive half of a link.
type Reader interface {
	// ReadExact blocks until p is completely filled.
	ReadExact(ctx context.Context, p []byte) error

	// ReadUntilIdle waits for the first byte, then keeps filling p until it
	// is full or the line stays quiet for the idle interval. It returns the
	// number of bytes written into p.
	ReadUntilIdle(ctx context.Context, p []byte) (int, error)
}

// Operation names reported in Error.
const (
	OpOpen          = "open"
	OpWrite         = "write"
	OpRead          = "read"
	OpReadUntilIdle = "read until idle"
)

var (
	// ErrClosed is returned by operations on a closed link.
	ErrClosed = errors.New("link closed")
	// ErrOverrun is returned when the transport reports more bytes than the
	// destination can hold.
	ErrOverrun = errors.New("receive overrun")
)

// Error describes a failed transport operation.
type Error struct {
	Op   string
	Port string
	Err  error
}

func (e *Error) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("link: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("link: %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
