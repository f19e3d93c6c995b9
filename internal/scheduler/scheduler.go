// Package scheduler implements the Two-Tier Scheduler: the top-level
// state machine that gates Stage 1, strike selection/Stage 2, pre-flight
// safety, Tier 1 submission and monitoring, Tier 2 conditional retry, and
// reconciliation.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/putpipeline/config"
	"github.com/alejandrodnm/putpipeline/internal/clocksync"
	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/execution"
	"github.com/alejandrodnm/putpipeline/internal/market"
	"github.com/alejandrodnm/putpipeline/internal/metrics"
	"github.com/alejandrodnm/putpipeline/internal/placement"
	"github.com/alejandrodnm/putpipeline/internal/ports"
	"github.com/alejandrodnm/putpipeline/internal/reconcile"
	"github.com/alejandrodnm/putpipeline/internal/strike"
	"github.com/alejandrodnm/putpipeline/internal/validate"
	"github.com/shopspring/decimal"
)

// Mode is one of the three automation modes.
type Mode string

const (
	ModeHybrid     Mode = "hybrid"
	ModeSupervised Mode = "supervised"
	ModeAutonomous Mode = "autonomous"
)

// UserDecision is what a hybrid-mode operator answers when prompted.
type UserDecision string

const (
	DecisionExecute UserDecision = "execute"
	DecisionWait    UserDecision = "wait"
	DecisionAbort   UserDecision = "abort"
)

// Prompter asks the operator for a hybrid-mode decision.
type Prompter interface {
	Prompt(ctx context.Context, candidates []domain.Candidate) (UserDecision, error)
}

// NTPServers is the default priority-ordered list of NTP servers queried
// by the pre-flight clock-sync check.
var NTPServers = []string{"time.google.com:123", "pool.ntp.org:123", "time.nist.gov:123"}

// promptWaitDelay is how long a hybrid-mode "wait" answer defers before
// the operator is prompted again.
const promptWaitDelay = time.Minute

// Scheduler is the top-level execution state machine for one weekend
// batch of staged candidates.
type Scheduler struct {
	broker   ports.Broker
	store    ports.Storage
	notifier ports.Notifier
	clock    ports.Clock
	prompter Prompter

	cfg config.SchedulerConfig

	saved     map[string]struct{} // order_ids already persisted this session
	syncCheck func(ctx context.Context) error
}

// New constructs a Scheduler.
func New(broker ports.Broker, store ports.Storage, notifier ports.Notifier, clock ports.Clock, prompter Prompter, cfg config.SchedulerConfig) *Scheduler {
	s := &Scheduler{
		broker: broker, store: store, notifier: notifier, clock: clock, prompter: prompter,
		cfg: cfg, saved: make(map[string]struct{}),
	}
	s.syncCheck = func(ctx context.Context) error {
		threshold := time.Duration(cfg.ClockSyncThresholdMs) * time.Millisecond
		_, err := clocksync.Check(ctx, NTPServers, 2*time.Second, threshold)
		return err
	}
	return s
}

// Run drives one full weekend batch through every phase and returns the
// resulting report. A nil error with a populated report's Warnings field
// means the run completed, possibly with a partial or empty outcome.
func (s *Scheduler) Run(ctx context.Context, candidates []domain.Candidate) (domain.ExecutionReport, error) {
	report := domain.ExecutionReport{
		Date:      s.clock.Now(),
		StartedAt: s.clock.Now(),
		Staged:    len(candidates),
	}
	metrics.SetCandidatesStaged(len(candidates))

	if err := s.checkClockSync(ctx); err != nil {
		s.warn(&report, fmt.Sprintf("clock sync failed: %v", err))
		report.EndedAt = s.clock.Now()
		return report, err
	}

	if err := s.waitUntil(ctx, s.cfg.Stage1Time); err != nil {
		return report, err
	}
	ready := s.runStage1(ctx, candidates, &report)
	report.Validated = len(ready)
	if len(ready) == 0 {
		s.warn(&report, "no candidates passed Stage 1 validation")
		report.EndedAt = s.clock.Now()
		return report, nil
	}

	if err := s.waitUntil(ctx, s.cfg.Tier1ExecutionTime); err != nil {
		return report, err
	}
	confirmed := s.runStrikeSelectionOrStage2(ctx, ready, &report)
	report.Confirmed = len(confirmed)
	if len(confirmed) == 0 {
		s.warn(&report, "no candidates confirmed for submission")
		report.EndedAt = s.clock.Now()
		return report, nil
	}

	if ok, reason := s.preFlightCheck(ctx, confirmed); !ok {
		s.warn(&report, "pre-flight check failed: "+reason)
		if s.cfg.Mode != string(ModeHybrid) {
			report.EndedAt = s.clock.Now()
			return report, nil
		}
	}

	if s.cfg.Mode == string(ModeHybrid) && s.prompter != nil {
		for {
			decision, err := s.prompter.Prompt(ctx, confirmed)
			if err != nil {
				return report, fmt.Errorf("scheduler.Run: prompt: %w", err)
			}
			if decision == DecisionWait {
				if err := s.clock.Sleep(ctx, promptWaitDelay); err != nil {
					return report, err
				}
				continue
			}
			if decision == DecisionAbort {
				s.warn(&report, "user aborted")
				report.EndedAt = s.clock.Now()
				return report, nil
			}
			break
		}
	}

	if s.cfg.DryRun {
		for _, c := range confirmed {
			report.Skipped = append(report.Skipped, domain.ExecutionSummary{
				CandidateID: c.ID, Symbol: c.Symbol, Strike: c.EffectiveStrike(),
				Expiration: c.Expiration, SubmittedLimit: c.EffectiveLimit(), Outcome: "dry-run",
			})
		}
		s.warn(&report, "dry-run: no orders submitted, no broker side-effects performed")
		report.Recalculate()
		report.EndedAt = s.clock.Now()
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx, report)
		}
		return report, nil
	}

	exec := execution.New(s.broker, execution.Config{
		Placement: placement.Config{
			MaxExecutionSpread:   decimal.NewFromFloat(s.cfg.MaxExecutionSpread),
			PriceStabilityWarn:   decimal.NewFromFloat(0.20),
			PriceStabilityReject: decimal.NewFromFloat(0.50),
			PremiumMin:           decimal.NewFromFloat(s.cfg.PremiumMin),
			BidMidRatio:          decimal.NewFromFloat(s.cfg.BidMidRatio),
			UseAdaptive:          s.cfg.UseAdaptiveAlgo,
			SubmitWait:           300 * time.Millisecond,
		},
		QuoteTimeout:        durationSeconds(s.cfg.ExecutionQuoteTimeout),
		QuoteRetryTimeout:   durationSeconds(s.cfg.ExecutionQuoteRetryTimeout),
		MaxWait:             time.Duration(s.cfg.RapidFireMaxWaitSeconds) * time.Second,
		AdjustmentThreshold: decimal.NewFromFloat(s.cfg.AdjustmentThreshold),
		MonitorInterval:     2 * time.Second,
	})

	submitStart := s.clock.Now()
	results, err := exec.Submit(ctx, placement.SessionRegular, confirmed)
	if err != nil {
		return report, fmt.Errorf("scheduler.Run: submit: %w", err)
	}
	report.SubmissionDuration = s.clock.Now().Sub(submitStart)
	report.Submitted = countSubmitted(results)
	for _, r := range results {
		if r.Placement.OK {
			continue
		}
		reason := string(r.Skip)
		if r.Err != nil {
			reason = r.Err.Error()
		}
		if reason == "" {
			reason = r.Placement.Reason
		}
		report.Skipped = append(report.Skipped, domain.ExecutionSummary{
			CandidateID: r.Candidate.ID, Symbol: r.Candidate.Symbol,
			Strike: r.Candidate.EffectiveStrike(), Outcome: "skipped", Reason: reason,
		})
	}
	if report.Submitted == 0 {
		s.warn(&report, fmt.Sprintf("CRITICAL: 0 orders submitted for %d staged — likely systematic failure (market data unavailable)", len(confirmed)))
	}
	s.persistPending(ctx, results, &report)

	monitorStart := s.clock.Now()
	var filled, failed []domain.ExecutionSummary
	if s.cfg.UseFillManager {
		fm := execution.NewFillManager(s.broker, execution.FillManagerConfig{
			Window:                  time.Duration(s.cfg.FillMonitorWindowSeconds) * time.Second,
			CheckInterval:           durationSeconds(s.cfg.FillCheckInterval),
			AdjustmentInterval:      time.Duration(s.cfg.FillAdjustmentInterval) * time.Second,
			MaxAdjustmentsPerSymbol: s.cfg.MaxPriceAdjustments,
			PartialFillThreshold:    decimal.NewFromFloat(s.cfg.FillPartialThreshold),
			AdjustmentIncrement:     decimal.NewFromFloat(s.cfg.PriceAdjustmentIncrement),
			PremiumFloor:            decimal.NewFromFloat(s.cfg.PremiumFloor),
			LeaveWorkingOnTimeout:   s.cfg.FillLeaveWorking,
		})
		filled, failed, err = exec.RunFillManager(ctx, fm)
	} else {
		filled, failed, err = exec.Monitor(ctx)
	}
	if err != nil {
		slog.Warn("monitor loop returned early", "err", err)
	}
	report.MonitoringDuration = s.clock.Now().Sub(monitorStart)
	report.Filled = append(report.Filled, filled...)
	report.Failed = append(report.Failed, failed...)
	s.persistFilled(ctx, filled, confirmed, &report)

	tier2Filled, tier2Failed := s.runTier2(ctx, exec)
	report.Filled = append(report.Filled, tier2Filled...)
	report.Failed = append(report.Failed, tier2Failed...)
	s.persistFilled(ctx, tier2Filled, confirmed, &report)

	if err := s.waitUntil(ctx, s.cfg.ReconciliationTime); err != nil {
		return report, err
	}
	deltas, err := reconcile.Run(ctx, s.broker, s.store, report.StartedAt)
	if err != nil {
		slog.Warn("reconciliation failed", "err", err)
	} else {
		for _, d := range deltas {
			s.warn(&report, fmt.Sprintf("reconciliation delta (%s): %s — %s", d.Kind, d.OrderID, d.Detail))
		}
	}

	for _, po := range exec.Pending() {
		report.Working = append(report.Working, domain.ExecutionSummary{
			CandidateID: po.CandidateID, Symbol: po.Contract.Symbol, Strike: po.Contract.Strike,
			OrderID: po.OrderID, OrderType: po.OrderType, SubmittedLimit: po.CurrentLimit,
			AdjustmentsMade: po.AdjustmentCount, Outcome: "working",
		})
	}
	exec.Close()

	report.Recalculate()
	report.EndedAt = s.clock.Now()

	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, report)
	}
	return report, nil
}

// warn records a warning on the report and counts it in metrics.
func (s *Scheduler) warn(report *domain.ExecutionReport, msg string) {
	report.AddWarning(msg)
	metrics.IncWarning()
}

func (s *Scheduler) checkClockSync(ctx context.Context) error {
	return s.syncCheck(ctx)
}

func (s *Scheduler) waitUntil(ctx context.Context, hhmm string) error {
	target, err := config.OnDay(hhmm, s.clock.Now())
	if err != nil {
		return fmt.Errorf("scheduler.waitUntil: %w", err)
	}
	d := target.Sub(s.clock.Now())
	if d <= 0 {
		return nil
	}
	return s.clock.Sleep(ctx, d)
}

func (s *Scheduler) runStage1(ctx context.Context, candidates []domain.Candidate, report *domain.ExecutionReport) []domain.Candidate {
	cfg := validate.Stage1Config{
		MaxDeviationReady:  decimal.NewFromFloat(s.cfg.MaxDeviationReady),
		MaxDeviationAdjust: decimal.NewFromFloat(s.cfg.MaxDeviationAdjust),
		MaxDeviationStale:  decimal.NewFromFloat(s.cfg.MaxDeviationStale),
		MinOTMStandard:     decimal.NewFromFloat(s.cfg.MinOTMPct),
		MinOTMAggressive:   decimal.NewFromFloat(s.cfg.MinOTMPct + 0.05),
	}
	lookup := func(ctx context.Context, symbol string, c domain.Candidate, strike decimal.Decimal) (bool, error) {
		chain, err := s.broker.GetOptionChain(ctx, symbol, c.Expiration)
		if err != nil {
			return false, err
		}
		for _, s := range chain {
			if s.Equal(strike) {
				return true, nil
			}
		}
		return false, nil
	}

	var ready []domain.Candidate
	for i := range candidates {
		c := candidates[i]
		res, err := validate.Stage1(ctx, s.broker, cfg, &c, lookup)
		if err != nil {
			slog.Warn("stage1 failed", "symbol", c.Symbol, "err", err)
			continue
		}
		switch res.Status {
		case validate.Stage1Ready:
			c.State = domain.StateReady
			ready = append(ready, c)
		case validate.Stage1Adjusted:
			c.State = domain.StateReady
			ready = append(ready, c)
		default:
			c.State = domain.StateStale
			report.Skipped = append(report.Skipped, domain.ExecutionSummary{CandidateID: c.ID, Symbol: c.Symbol, Outcome: "skipped", Reason: res.Reason})
		}
	}
	return ready
}

func (s *Scheduler) runStrikeSelectionOrStage2(ctx context.Context, candidates []domain.Candidate, report *domain.ExecutionReport) []domain.Candidate {
	if s.cfg.UseStage2Fallback {
		return s.runStage2(ctx, candidates, report)
	}

	strikeCfg := strike.Config{
		TargetDelta:     s.cfg.StrikeTargetDelta,
		DeltaTolerance:  s.cfg.StrikeDeltaTolerance,
		MinOTMPct:       decimal.NewFromFloat(s.cfg.MinOTMPct),
		MinOpenInterest: s.cfg.StrikeMinOpenInterest,
		MaxCandidates:   s.cfg.StrikeMaxCandidates,
		GreeksTimeout:   durationSeconds(s.cfg.GreeksWaitTimeout),
		MaxSpread:       decimal.NewFromFloat(s.cfg.MaxExecutionSpread),
		PremiumFloor:    decimal.NewFromFloat(s.cfg.PremiumFloor),
		BidMidRatio:     decimal.NewFromFloat(s.cfg.BidMidRatio),
		FallbackToOTM:   s.cfg.StrikeFallbackToOTM,
	}

	var confirmed []domain.Candidate
	for i := range candidates {
		c := candidates[i]
		result, err := strike.Select(ctx, s.broker, strikeCfg, &c)
		if err != nil {
			slog.Warn("strike selection failed", "symbol", c.Symbol, "err", err)
			continue
		}
		if result == strike.Abandoned {
			report.Skipped = append(report.Skipped, domain.ExecutionSummary{CandidateID: c.ID, Symbol: c.Symbol, Outcome: "skipped", Reason: "strike selection abandoned"})
			continue
		}
		c.State = domain.StateConfirmed
		confirmed = append(confirmed, c)
	}
	return confirmed
}

// runStage2 is the legacy at-open premium check, used in place of the
// Live Strike Selector when UseStage2Fallback is set.
func (s *Scheduler) runStage2(ctx context.Context, candidates []domain.Candidate, report *domain.ExecutionReport) []domain.Candidate {
	cfg := validate.Stage2Config{
		MaxPremiumDeviationConfirmed: decimal.NewFromFloat(s.cfg.MaxPremiumDeviationConfirmed),
		MaxPremiumDeviationAdjust:    decimal.NewFromFloat(s.cfg.MaxPremiumDeviationAdjust),
		OTMExecuteFloor:              decimal.NewFromFloat(s.cfg.MinOTMPct),
		PremiumFloor:                 decimal.NewFromFloat(s.cfg.PremiumFloor),
		BidMidRatio:                  decimal.NewFromFloat(s.cfg.BidMidRatio),
		RetryDelay:                   2 * time.Second,
		MaxRetries:                   3,
	}

	var confirmed []domain.Candidate
	for i := range candidates {
		c := candidates[i]
		status, err := validate.Stage2(ctx, s.broker, cfg, &c)
		if err != nil {
			slog.Warn("stage2 failed", "symbol", c.Symbol, "err", err)
			continue
		}
		switch status {
		case validate.Stage2Ready:
			c.State = domain.StateConfirmed
			confirmed = append(confirmed, c)
		case validate.Stage2Pending:
			report.Skipped = append(report.Skipped, domain.ExecutionSummary{CandidateID: c.ID, Symbol: c.Symbol, Outcome: "skipped", Reason: "stage2 pending: options not yet open"})
		default:
			report.Skipped = append(report.Skipped, domain.ExecutionSummary{CandidateID: c.ID, Symbol: c.Symbol, Outcome: "skipped", Reason: "stage2 stale"})
		}
	}
	return confirmed
}

func (s *Scheduler) preFlightCheck(ctx context.Context, candidates []domain.Candidate) (bool, string) {
	if ok, reason := s.broker.CheckMarketDataHealth(ctx); !ok {
		return false, reason
	}

	total := decimal.Zero
	for _, c := range candidates {
		if c.EffectiveLimit().IsZero() || c.StagedContracts <= 0 {
			return false, fmt.Sprintf("candidate %s has invalid limit or contract count", c.Symbol)
		}
		margin, err := s.broker.GetMarginRequirement(ctx, c.Symbol, c.EffectiveStrike(), c.Expiration, "PUT", c.StagedContracts)
		if err != nil {
			continue
		}
		total = total.Add(margin)
	}
	if s.cfg.MaxTotalMargin > 0 && total.GreaterThan(decimal.NewFromFloat(s.cfg.MaxTotalMargin)) {
		return false, "staged margin exceeds max_total_margin"
	}
	if s.cfg.MaxPositions > 0 && len(candidates) > s.cfg.MaxPositions {
		return false, "staged count exceeds max_positions"
	}
	return true, ""
}

func (s *Scheduler) persistPending(ctx context.Context, results []execution.SubmissionResult, report *domain.ExecutionReport) {
	for _, r := range results {
		if !r.Placement.OK {
			continue
		}
		if _, ok := s.saved[r.Placement.OrderID]; ok {
			continue
		}
		c := r.Candidate
		t := domain.Trade{
			TradeID:      domain.NewTradeID(c.Symbol, c.EffectiveStrike(), c.Expiration, "PUT"),
			OrderID:      r.Placement.OrderID,
			Symbol:       c.Symbol,
			Strike:       c.EffectiveStrike(),
			Expiration:   c.Expiration,
			OptionType:   "PUT",
			EntryDate:    s.clock.Now(),
			EntryPremium: r.Placement.Limit,
			Contracts:    c.StagedContracts,
			OTMFraction:  c.CurrentOTMFraction(),
			DTE:          c.DTE(s.clock.Now()),
			Reasoning:    "PENDING — awaiting fill",
			Confidence:   c.Confidence,
			State:        domain.TradePending,
		}
		if err := s.store.UpsertTrade(ctx, t); err != nil {
			slog.Error("persist pending trade failed", "order_id", t.OrderID, "err", err)
			continue
		}
		s.saved[r.Placement.OrderID] = struct{}{}
	}
}

func (s *Scheduler) persistFilled(ctx context.Context, filled []domain.ExecutionSummary, confirmed []domain.Candidate, report *domain.ExecutionReport) {
	byID := make(map[int64]domain.Candidate, len(confirmed))
	for _, c := range confirmed {
		byID[c.ID] = c
	}
	for _, f := range filled {
		c := byID[f.CandidateID]
		t := domain.Trade{
			TradeID:      domain.NewTradeID(f.Symbol, f.Strike, f.Expiration, "PUT"),
			OrderID:      f.OrderID,
			Symbol:       f.Symbol,
			Strike:       f.Strike,
			Expiration:   f.Expiration,
			OptionType:   "PUT",
			EntryDate:    s.clock.Now(),
			EntryPremium: f.FillPrice,
			Contracts:    f.ContractsFilled,
			OTMFraction:  c.CurrentOTMFraction(),
			DTE:          c.DTE(s.clock.Now()),
			Reasoning:    "Executed",
			Confidence:   c.Confidence,
			State:        domain.TradeFilled,
		}
		if err := s.store.UpsertTrade(ctx, t); err != nil {
			slog.Error("persist filled trade failed", "order_id", t.OrderID, "err", err)
			continue
		}
		s.saved[f.OrderID] = struct{}{}

		if err := s.store.InsertEntrySnapshot(ctx, ports.EntrySnapshot{TradeID: t.TradeID, Fields: map[string]any{
			"delta": c.LiveDelta, "iv": c.LiveIV, "otm_fraction": t.OTMFraction.String(),
		}}); err != nil {
			slog.Warn("entry snapshot failed, trade still persisted", "trade_id", t.TradeID, "err", err)
		}
		if err := s.store.UpdateCandidateState(ctx, c.ID, domain.StateExecuted); err != nil {
			slog.Warn("candidate state update failed", "candidate_id", c.ID, "err", err)
		}
	}
}

// runTier2 gates the conditional-retry window on the clock, then delegates
// the actual polling and repricing to Executor.RunTier2 so every
// cancel-and-replace — Tier 1's threshold adjustments and this retry — goes
// through the same map-rekeying path and the same order-status subscription.
func (s *Scheduler) runTier2(ctx context.Context, exec *execution.Executor) (filled, failed []domain.ExecutionSummary) {
	if len(exec.Pending()) == 0 {
		return nil, nil
	}

	start, err := config.OnDay(s.cfg.Tier2WindowStart, s.clock.Now())
	if err != nil {
		return nil, nil
	}
	end, err := config.OnDay(s.cfg.Tier2WindowEnd, s.clock.Now())
	if err != nil {
		return nil, nil
	}
	if s.clock.Now().Before(start) {
		if err := s.clock.Sleep(ctx, start.Sub(s.clock.Now())); err != nil {
			return nil, nil
		}
	}

	tctx, cancel := context.WithDeadline(ctx, end)
	defer cancel()

	return exec.RunTier2(tctx, execution.Tier2Config{
		CheckInterval:   time.Duration(s.cfg.Tier2CheckInterval) * time.Second,
		LimitAdjustment: decimal.NewFromFloat(s.cfg.Tier2LimitAdjustment),
		Market: market.Config{
			VIXHigh: s.cfg.Tier2VixHigh, VIXLow: s.cfg.Tier2VixLow,
			MaxSpread: decimal.NewFromFloat(s.cfg.Tier2MaxSpread), MaxSamples: 5,
		},
	})
}

func countSubmitted(results []execution.SubmissionResult) int {
	n := 0
	for _, r := range results {
		if r.Placement.OK {
			n++
		}
	}
	return n
}

func durationSeconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
