package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/uart-sampler/internal/link"
	"github.com/shaunagostinho/uart-sampler/internal/logger"
	"github.com/shaunagostinho/uart-sampler/internal/publish"
	"github.com/shaunagostinho/uart-sampler/internal/sampler"
	"github.com/shaunagostinho/uart-sampler/internal/server"
	"github.com/shaunagostinho/uart-sampler/web"
)

func main() {
	configPath := flag.String("config", server.DefaultPath, "Path to config file")
	demo := flag.Bool("demo", false, "Sample a loopback link instead of a UART")
	listenAddr := flag.String("listen", "", "Enable the monitor on this address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] uartsampler starting")

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	if *demo {
		cfg.Serial.Type = "loopback"
	}
	if *listenAddr != "" {
		cfg.Monitor.Enabled = true
		cfg.Monitor.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] %v", err)
	}

	strategy := sampler.BuildStrategy
	log.Printf("[main] read strategy: %s", strategy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	tx, rx, closer, err := openLink(cfg)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer closer.Close()

	var reporters []sampler.Reporter

	if cfg.Logging.Enabled {
		capture := logger.New(cfg.Logging)
		defer capture.Close()
		reporters = append(reporters, capture)
	}

	if cfg.Monitor.Enabled {
		srv := server.New(cfg, strategy, web.FS)
		if err := srv.Listen(); err != nil {
			log.Fatalf("[main] %v", err)
		}
		reporters = append(reporters, srv)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Printf("[main] monitor exited: %v", err)
			}
		}()
	}

	if cfg.MQTT.Enabled {
		pub, err := publish.New(cfg.Publisher())
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		defer pub.Close()
		reporters = append(reporters, pub)
		// Samples are dropped until the broker is reachable; the loops never wait on it.
		go connectWithRetry(ctx, "mqtt", pub, 10)
	}

	payload, err := cfg.Payload()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	transmitter, err := sampler.NewTransmitter(tx, payload, cfg.Period())
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	rcfg, err := cfg.Receiver(strategy)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	receiver, err := sampler.NewReceiver(rx, rcfg, reporters...)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	err = sampler.Run(ctx, transmitter, receiver)
	if errors.Is(err, context.Canceled) {
		log.Printf("[main] stopped")
		return
	}
	log.Fatalf("[main] %v", err)
}

// openLink builds the configured transport and splits it into halves.
func openLink(cfg *server.Config) (link.Writer, link.Reader, io.Closer, error) {
	switch cfg.Serial.Type {
	case "loopback":
		l := link.NewLoopback(cfg.Idle())
		log.Printf("[main] using loopback link (idle %v)", cfg.Idle())
		tx, rx := l.Split()
		return tx, rx, l, nil
	default:
		s, err := link.OpenSerial(cfg.SerialLink())
		if err != nil {
			return nil, nil, nil, err
		}
		tx, rx := s.Split()
		return tx, rx, s, nil
	}
}

// connectable is satisfied by the MQTT publisher.
type connectable interface {
	Connect() error
	Close() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.Connect()
		if err == nil {
			log.Printf("[%s] connected successfully (attempt %d)", name, attempt+1)
			return
		}

		attempt++
		if attempt <= maxAttempts {
			log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
				name, attempt, maxAttempts, err, delay)
		} else {
			log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
				name, attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
