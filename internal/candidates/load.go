// Package candidates loads the weekend screener's staged output. The
// screener itself is out of scope for this pipeline; it hands over a
// flat JSON array describing each candidate, and this package turns that
// into domain.Candidate values ready for the scheduler.
package candidates

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/shopspring/decimal"
)

// stagedRecord is the on-disk shape of one screener-staged candidate.
type stagedRecord struct {
	Symbol           string  `json:"symbol"`
	Strike           string  `json:"strike"`
	Expiration       string  `json:"expiration"` // RFC3339 or "2006-01-02"
	StagedStockPrice string  `json:"staged_stock_price"`
	StagedLimitPrice string  `json:"staged_limit_price"`
	StagedContracts  int     `json:"staged_contracts"`
	StagedMargin     string  `json:"staged_margin"`
	OTMFraction      string  `json:"otm_fraction"`
	Reasoning        string  `json:"reasoning"`
	Confidence       float64 `json:"confidence"`
}

// Load reads a JSON array of staged candidates from path and assigns each
// a stable sequential ID in file order.
func Load(path string) ([]domain.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("candidates.Load: read %q: %w", path, err)
	}

	var records []stagedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("candidates.Load: parse %q: %w", path, err)
	}

	out := make([]domain.Candidate, 0, len(records))
	for i, r := range records {
		exp, err := parseDate(r.Expiration)
		if err != nil {
			return nil, fmt.Errorf("candidates.Load: %s: expiration: %w", r.Symbol, err)
		}
		strike, err := decimal.NewFromString(r.Strike)
		if err != nil {
			return nil, fmt.Errorf("candidates.Load: %s: strike: %w", r.Symbol, err)
		}

		out = append(out, domain.Candidate{
			ID:               int64(i + 1),
			Symbol:           r.Symbol,
			Strike:           strike,
			Expiration:       exp,
			OptionType:       "PUT",
			StagedStockPrice: mustDecimal(r.StagedStockPrice),
			StagedLimitPrice: mustDecimal(r.StagedLimitPrice),
			StagedContracts:  r.StagedContracts,
			StagedMargin:     mustDecimal(r.StagedMargin),
			OTMFraction:      mustDecimal(r.OTMFraction),
			Reasoning:        r.Reasoning,
			Confidence:       r.Confidence,
			State:            domain.StateStaged,
		})
	}
	return out, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
