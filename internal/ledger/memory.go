package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger errors.
var (
	ErrRideNotSubmitted = errors.New("ride not submitted")
	ErrRideMismatch     = errors.New("ride already submitted with different metrics")
)

// MemoryLedger is an in-process Ledger keyed by ride id. Repeating a call
// for the same ride returns the original receipt.
type MemoryLedger struct {
	mu        sync.Mutex
	submitted map[string]memoryEntry
	verified  map[string]Receipt
	failures  map[Operation][]string
	gates     map[Operation]chan struct{}
	calls     map[Operation]int

	// Latency delays every call, simulating block confirmation.
	Latency time.Duration
	Now     func() time.Time
}

type memoryEntry struct {
	submission Submission
	receipt    Receipt
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		submitted: make(map[string]memoryEntry),
		verified:  make(map[string]Receipt),
		failures:  make(map[Operation][]string),
		gates:     make(map[Operation]chan struct{}),
		calls:     make(map[Operation]int),
		Now:       time.Now,
	}
}

// FailNext makes the next call of op fail with reason.
func (m *MemoryLedger) FailNext(op Operation, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], reason)
}

// Hold blocks calls of op until the returned release function is called.
func (m *MemoryLedger) Hold(op Operation) (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gates[op] = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gates[op] == gate {
				delete(m.gates, op)
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times op reached the ledger.
func (m *MemoryLedger) Calls(op Operation) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Submitted returns the stored submission for rideID.
func (m *MemoryLedger) Submitted(rideID string) (Submission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.submitted[rideID]
	return e.submission, ok
}

// SubmitRide implements Ledger.
func (m *MemoryLedger) SubmitRide(ctx context.Context, s Submission) (Receipt, error) {
	if err := m.enter(ctx, OpSubmit); err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.submitted[s.RideID]; ok {
		if e.submission != s {
			return Receipt{}, ErrRideMismatch
		}
		return e.receipt, nil
	}

	r := m.receipt(s.RideID, OpSubmit)
	m.submitted[s.RideID] = memoryEntry{submission: s, receipt: r}
	return r, nil
}

// VerifyRide implements Ledger.
func (m *MemoryLedger) VerifyRide(ctx context.Context, rideID string) (Receipt, error) {
	if err := m.enter(ctx, OpVerify); err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.submitted[rideID]; !ok {
		return Receipt{}, ErrRideNotSubmitted
	}
	if r, ok := m.verified[rideID]; ok {
		return r, nil
	}

	r := m.receipt(rideID, OpVerify)
	m.verified[rideID] = r
	return r, nil
}

// enter applies holds, latency and injected failures.
func (m *MemoryLedger) enter(ctx context.Context, op Operation) error {
	m.mu.Lock()
	m.calls[op]++
	gate := m.gates[op]
	latency := m.Latency
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if queue := m.failures[op]; len(queue) > 0 {
		m.failures[op] = queue[1:]
		return errors.New(queue[0])
	}
	return nil
}

func (m *MemoryLedger) receipt(rideID string, op Operation) Receipt {
	a, b := uuid.New(), uuid.New()
	return Receipt{
		RideID:      rideID,
		Op:          op,
		TxHash:      "0x" + hex.EncodeToString(a[:]) + hex.EncodeToString(b[:]),
		ConfirmedAt: m.Now(),
	}
}

// Ensure MemoryLedger implements Ledger interface.
var _ Ledger = (*MemoryLedger)(nil)
