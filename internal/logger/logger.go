package logger

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/uart-sampler/internal/sampler"
)

// Logger records every receive sample to CSV files with automatic rotation.
type Logger struct {
	mu      sync.Mutex
	dir     string
	maxRows int

	file   *os.File
	writer *csv.Writer
	rows   int
}

// Config holds logger configuration. Enabled decides whether a Logger is
// attached to the receive loop at all.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"`
}

const (
	defaultMaxRows = 100_000 // ~28 hrs at one sample per second
	defaultDir     = "/var/log/uartsampler"
)

var csvHeader = []string{
	"timestamp", "seq", "strategy", "start", "end", "amount", "counter", "buffer",
}

// New creates a new Logger. No file is created until the first Record.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = defaultDir
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return &Logger{
		dir:     cfg.Path,
		maxRows: cfg.MaxRows,
	}
}

// Record implements sampler.Reporter.
func (l *Logger) Record(s sampler.Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil || l.rows >= l.maxRows {
		if err := l.rotateFile(s.Time); err != nil {
			log.Printf("[capture] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(s)); err != nil {
		log.Printf("[capture] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current capture file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	// Nanoseconds keep names unique when rotation happens within a second.
	filename := fmt.Sprintf("capture_%s_%09d.csv", now.Format("2006-01-02_150405"), now.Nanosecond())
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[capture] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(s sampler.Sample) []string {
	return []string{
		s.Time.Format(time.RFC3339Nano),
		strconv.FormatUint(s.Seq, 10),
		s.Strategy.String(),
		strconv.Itoa(s.Start),
		strconv.Itoa(s.End),
		strconv.Itoa(s.N),
		strconv.Itoa(int(s.Counter)),
		hex.EncodeToString(s.Data),
	}
}
