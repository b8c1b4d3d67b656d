package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/plotline/internal/ledger"
)

// stubLedger hands out a fixed candidate set and records expiry calls.
type stubLedger struct {
	mu         sync.Mutex
	candidates []uint64
	failOn     map[uint64]error
	expired    []uint64
}

func (s *stubLedger) ExpiredCandidates() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.candidates))
	copy(out, s.candidates)
	return out
}

func (s *stubLedger) CheckExpiredEscrow(_ context.Context, sceneID uint64) (*ledger.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[sceneID]; err != nil {
		return nil, err
	}
	s.expired = append(s.expired, sceneID)
	return &ledger.Receipt{TxRef: "ref", OK: true}, nil
}

func (s *stubLedger) expiredIDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.expired))
	copy(out, s.expired)
	return out
}

func TestSweep_ExpiresAllCandidates(t *testing.T) {
	stub := &stubLedger{candidates: []uint64{4, 7, 9}}
	s := NewEscrowSweeper(stub, NewMetrics(), time.Minute)

	if got := s.Sweep(context.Background()); got != 3 {
		t.Fatalf("Sweep = %d, want 3", got)
	}
	if ids := stub.expiredIDs(); len(ids) != 3 {
		t.Errorf("expired ids = %v, want 3 entries", ids)
	}
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	stub := &stubLedger{
		candidates: []uint64{4, 7, 9},
		failOn:     map[uint64]error{7: errors.New("settled concurrently")},
	}
	s := NewEscrowSweeper(stub, NewMetrics(), time.Minute)

	if got := s.Sweep(context.Background()); got != 2 {
		t.Fatalf("Sweep = %d, want 2", got)
	}
}

func TestSweep_NoCandidates(t *testing.T) {
	stub := &stubLedger{}
	s := NewEscrowSweeper(stub, NewMetrics(), time.Minute)

	if got := s.Sweep(context.Background()); got != 0 {
		t.Fatalf("Sweep = %d, want 0", got)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	stub := &stubLedger{candidates: []uint64{2}}
	s := NewEscrowSweeper(stub, NewMetrics(), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(stub.expiredIDs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if len(stub.expiredIDs()) == 0 {
		t.Error("expected at least one sweep before cancellation")
	}
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
