package validate

import (
	"context"
	"testing"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	price decimal.Decimal
	ok    bool
}

func (f fakeBroker) GetStockPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	return f.price, f.ok, nil
}

func testCfg() Stage1Config {
	return Stage1Config{
		MaxDeviationReady:  decimal.NewFromFloat(0.03),
		MaxDeviationAdjust: decimal.NewFromFloat(0.05),
		MaxDeviationStale:  decimal.NewFromFloat(0.10),
		MinOTMStandard:     decimal.NewFromFloat(0.10),
		MinOTMAggressive:   decimal.NewFromFloat(0.15),
	}
}

func candidate(staged, strike decimal.Decimal) *domain.Candidate {
	return &domain.Candidate{
		ID:               1,
		Symbol:           "AAPL",
		Strike:           strike,
		StagedStockPrice: staged,
		StagedLimitPrice: decimal.NewFromFloat(0.45),
	}
}

func TestStage1_WithinBand_Ready(t *testing.T) {
	b := fakeBroker{price: decimal.NewFromFloat(154.5), ok: true}
	c := candidate(decimal.NewFromFloat(155), decimal.NewFromFloat(150))
	res, err := Stage1(context.Background(), b, testCfg(), c, nil)
	require.NoError(t, err)
	require.Equal(t, Stage1Ready, res.Status)
}

func TestStage1_BeyondStale(t *testing.T) {
	b := fakeBroker{price: decimal.NewFromFloat(130), ok: true}
	c := candidate(decimal.NewFromFloat(155), decimal.NewFromFloat(150))
	res, err := Stage1(context.Background(), b, testCfg(), c, nil)
	require.NoError(t, err)
	require.Equal(t, Stage1Stale, res.Status)
}

func TestStage1_ModerateDeviation_AdjustsWhenChainHasStrike(t *testing.T) {
	b := fakeBroker{price: decimal.NewFromFloat(161), ok: true} // +3.87% vs 155
	c := candidate(decimal.NewFromFloat(155), decimal.NewFromFloat(150))
	lookup := func(ctx context.Context, symbol string, cand domain.Candidate, strike decimal.Decimal) (bool, error) {
		return true, nil
	}
	res, err := Stage1(context.Background(), b, testCfg(), c, lookup)
	require.NoError(t, err)
	require.Equal(t, Stage1Adjusted, res.Status)
	require.False(t, c.AdjustedStrike.IsZero())
}

func TestStage1_ModerateDeviation_StaleWhenChainMissingStrike(t *testing.T) {
	b := fakeBroker{price: decimal.NewFromFloat(161), ok: true}
	c := candidate(decimal.NewFromFloat(155), decimal.NewFromFloat(150))
	lookup := func(ctx context.Context, symbol string, cand domain.Candidate, strike decimal.Decimal) (bool, error) {
		return false, nil
	}
	res, err := Stage1(context.Background(), b, testCfg(), c, lookup)
	require.NoError(t, err)
	require.Equal(t, Stage1Stale, res.Status)
	require.True(t, c.AdjustedStrike.IsZero())
}
