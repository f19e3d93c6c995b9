// Package reconcile implements end-of-window synchronization between
// local Trade records and the broker's authoritative execution history.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/ports"
)

// Delta describes one divergence found during reconciliation.
type Delta struct {
	OrderID string
	Kind    string // "local_only" | "broker_only" | "state_mismatch"
	Detail  string
}

// Run queries broker executions since sessionStart, matches them by
// broker order id against locally persisted Trade records, and updates
// any local record that diverges from the broker. A local-only trade
// (the broker has no record of it) is logged as a delta and left
// unmutated — its absence from one query could equally reflect transient
// broker-side lag, not a genuine failure to execute.
func Run(ctx context.Context, broker ports.Broker, store ports.Storage, sessionStart time.Time) ([]Delta, error) {
	executions, err := broker.GetTrades(ctx, sessionStart)
	if err != nil {
		return nil, fmt.Errorf("reconcile.Run: broker trades: %w", err)
	}
	byOrderID := make(map[string]ports.BrokerExecution, len(executions))
	for _, e := range executions {
		byOrderID[e.OrderID] = e
	}

	localTrades, err := store.GetAllTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile.Run: local trades: %w", err)
	}

	var deltas []Delta
	seen := make(map[string]bool, len(localTrades))

	for _, t := range localTrades {
		seen[t.OrderID] = true
		exec, ok := byOrderID[t.OrderID]
		if !ok {
			deltas = append(deltas, Delta{OrderID: t.OrderID, Kind: "local_only", Detail: "no matching broker execution"})
			slog.Info("reconciliation delta: local-only trade", "order_id", t.OrderID, "symbol", t.Symbol)
			continue
		}
		if t.State == domain.TradePending {
			t.State = domain.TradeFilled
			t.EntryPremium = exec.FillPrice
			t.EntryDate = exec.FilledAt
			if err := store.UpsertTrade(ctx, t); err != nil {
				return deltas, fmt.Errorf("reconcile.Run: upsert %s: %w", t.OrderID, err)
			}
			deltas = append(deltas, Delta{OrderID: t.OrderID, Kind: "state_mismatch", Detail: "broker shows filled, local was pending: corrected"})
		}
	}

	for orderID, exec := range byOrderID {
		if !seen[orderID] {
			deltas = append(deltas, Delta{OrderID: orderID, Kind: "broker_only", Detail: fmt.Sprintf("broker execution for %s has no local record", exec.Symbol)})
			slog.Warn("reconciliation delta: broker-only execution", "order_id", orderID, "symbol", exec.Symbol)
		}
	}

	return deltas, nil
}
