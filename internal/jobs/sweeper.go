package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/plotline/internal/ledger"
)

// EscrowLedger is the slice of the ledger the sweeper needs.
type EscrowLedger interface {
	ExpiredCandidates() []uint64
	CheckExpiredEscrow(ctx context.Context, sceneID uint64) (*ledger.Receipt, error)
}

// EscrowSweeper periodically expires Active escrows whose custody window
// has elapsed, releasing their slots for new claims. Expiry moves no funds;
// buyers still claim their partial refund explicitly.
//
// Expiry also happens lazily when a takeover claim hits a stale slot and
// when clients call the check-expired endpoint, so the sweeper is a
// latency bound rather than a correctness requirement.
type EscrowSweeper struct {
	ledger   EscrowLedger
	metrics  *Metrics
	interval time.Duration
}

// NewEscrowSweeper creates a sweeper. A zero interval defaults to a minute.
func NewEscrowSweeper(l EscrowLedger, m *Metrics, interval time.Duration) *EscrowSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &EscrowSweeper{ledger: l, metrics: m, interval: interval}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *EscrowSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires every candidate escrow once and returns the number expired.
func (s *EscrowSweeper) Sweep(ctx context.Context) int {
	start := time.Now()
	status := StatusSuccess
	expired := 0

	for _, sceneID := range s.ledger.ExpiredCandidates() {
		receipt, err := s.ledger.CheckExpiredEscrow(ctx, sceneID)
		if err != nil {
			// Lost races with refunds or confirmations land here; the
			// escrow is settled either way.
			s.metrics.IncJobErrors(JobTypeEscrowSweep, "check_expired_failed")
			status = StatusFailure
			slog.Warn("escrow sweep: check-expired failed",
				"scene_id", sceneID, "error", err)
			continue
		}
		expired++
		slog.Info("escrow sweep: escrow expired",
			"scene_id", sceneID, "tx_ref", receipt.TxRef)
	}

	s.metrics.IncJobsTotal(JobTypeEscrowSweep, status)
	s.metrics.ObserveJobDuration(JobTypeEscrowSweep, time.Since(start).Seconds())
	return expired
}
