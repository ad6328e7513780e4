package sampler

import "context"

// Run drives the transmit and receive loops in their own goroutines. It
// returns the first error from either loop, after the other one has been
// stopped, so no further traffic happens once Run returns.
func Run(ctx context.Context, t *Transmitter, r *Receiver) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- t.Run(ctx) }()
	go func() { errCh <- r.Run(ctx) }()

	err := <-errCh
	cancel()
	<-errCh
	return err
}
