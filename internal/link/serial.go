package link

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConfig holds UART settings for a Serial link.
type SerialConfig struct {
	PortPath string        `yaml:"port_path" json:"portPath"`
	BaudRate int           `yaml:"baud_rate" json:"baudRate"`
	Idle     time.Duration `yaml:"-" json:"-"` // Quiet interval that ends an idle-terminated read
}

const (
	defaultBaudRate = 115200
	defaultIdle     = 20 * time.Millisecond
)

// Serial is a full-duplex UART link backed by go.bug.st/serial.
//
// The port read timeout doubles as the idle detector: a Read that returns no
// bytes means the line was quiet for the whole interval.
type Serial struct {
	portPath string
	baudRate int
	idle     time.Duration
	port     serial.Port

	closeOnce sync.Once
	closed    chan struct{}
}

// SerialTx is the transmit half of a Serial link.
type SerialTx struct{ s *Serial }

// SerialRx is the receive half of a Serial link.
type SerialRx struct{ s *Serial }

// OpenSerial opens the port at 8N1 and clears any stale input.
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.Idle <= 0 {
		cfg.Idle = defaultIdle
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, &Error{Op: OpOpen, Port: cfg.PortPath, Err: err}
	}
	if err := port.SetReadTimeout(cfg.Idle); err != nil {
		port.Close()
		return nil, &Error{Op: OpOpen, Port: cfg.PortPath, Err: fmt.Errorf("set read timeout: %w", err)}
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("[serial] reset input buffer on %s: %v", cfg.PortPath, err)
	}

	log.Printf("[serial] opened %s at %d baud (idle %v)", cfg.PortPath, cfg.BaudRate, cfg.Idle)
	return &Serial{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		idle:     cfg.Idle,
		port:     port,
		closed:   make(chan struct{}),
	}, nil
}

// Split returns the two halves of the link.
func (s *Serial) Split() (*SerialTx, *SerialRx) {
	return &SerialTx{s: s}, &SerialRx{s: s}
}

// Close releases the port. Pending operations on either half fail with ErrClosed.
func (s *Serial) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.port.Close()
	})
	return err
}

func (s *Serial) fail(op string, err error) error {
	select {
	case <-s.closed:
		err = ErrClosed
	default:
	}
	return &Error{Op: op, Port: s.portPath, Err: err}
}

// Write sends all of p and waits for the output buffer to drain.
func (t *SerialTx) Write(ctx context.Context, p []byte) error {
	for sent := 0; sent < len(p); {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := t.s.port.Write(p[sent:])
		if err != nil {
			return t.s.fail(OpWrite, err)
		}
		sent += n
	}
	if err := t.s.port.Drain(); err != nil {
		return t.s.fail(OpWrite, fmt.Errorf("drain: %w", err))
	}
	return nil
}

// ReadExact fills p completely. Read timeouts are not errors here; the call
// keeps waiting until the bytes arrive or ctx is done.
func (r *SerialRx) ReadExact(ctx context.Context, p []byte) error {
	for n := 0; n < len(p); {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := r.s.port.Read(p[n:])
		if err != nil {
			return r.s.fail(OpRead, err)
		}
		n += m
	}
	return nil
}

// ReadUntilIdle implements Reader.
func (r *SerialRx) ReadUntilIdle(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	// Idle only counts once the line has been active.
	n := 0
	for n == 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		m, err := r.s.port.Read(p)
		if err != nil {
			return 0, r.s.fail(OpReadUntilIdle, err)
		}
		n = m
	}

	for n < len(p) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		m, err := r.s.port.Read(p[n:])
		if err != nil {
			return n, r.s.fail(OpReadUntilIdle, err)
		}
		if m == 0 {
			break
		}
		n += m
	}
	return n, nil
}
