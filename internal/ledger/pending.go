package ledger

import "context"

// Pending is the handle of an asynchronous ledger call. Abandoning the wait
// never cancels the call.
type Pending struct {
	RideID string
	Op     Operation

	done    chan struct{}
	receipt Receipt
	err     error
}

func newPending(rideID string, op Operation) *Pending {
	return &Pending{RideID: rideID, Op: op, done: make(chan struct{})}
}

func (p *Pending) complete(r Receipt, err error) {
	p.receipt = r
	p.err = err
	close(p.done)
}

// Done is closed when the call has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the call settles or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Receipt, error) {
	select {
	case <-p.done:
		return p.receipt, p.err
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	}
}

// Result returns the outcome. It must only be called after Done is closed.
func (p *Pending) Result() (Receipt, error) {
	<-p.done
	return p.receipt, p.err
}
