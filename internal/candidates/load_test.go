package candidates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `[
  {
    "symbol": "AAPL",
    "strike": "150",
    "expiration": "2026-02-14",
    "staged_stock_price": "155.00",
    "staged_limit_price": "0.45",
    "staged_contracts": 5,
    "staged_margin": "7500.00",
    "otm_fraction": "0.032",
    "reasoning": "weekly put screen",
    "confidence": 0.82
  },
  {
    "symbol": "MSFT",
    "strike": "400",
    "expiration": "2026-02-14T00:00:00Z",
    "staged_stock_price": "410.00",
    "staged_limit_price": "0.50",
    "staged_contracts": 3,
    "staged_margin": "12000.00",
    "otm_fraction": "0.024",
    "reasoning": "weekly put screen",
    "confidence": 0.77
  }
]`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "staged.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o644))
	return path
}

func TestLoad_ParsesCandidatesInFileOrder(t *testing.T) {
	path := writeSample(t)
	cands, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	require.Equal(t, int64(1), cands[0].ID)
	require.Equal(t, "AAPL", cands[0].Symbol)
	require.Equal(t, domain.StateStaged, cands[0].State)
	require.True(t, cands[0].Strike.Equal(decimal.NewFromFloat(150)))
	require.True(t, cands[0].StagedLimitPrice.Equal(decimal.NewFromFloat(0.45)))
	require.Equal(t, 5, cands[0].StagedContracts)

	require.Equal(t, int64(2), cands[1].ID)
	require.Equal(t, "MSFT", cands[1].Symbol)
}

func TestLoad_AcceptsPlainDateAndRFC3339Expiration(t *testing.T) {
	path := writeSample(t)
	cands, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2026, cands[0].Expiration.Year())
	require.Equal(t, 2026, cands[1].Expiration.Year())
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoad_InvalidStrikeErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "staged.json")
	bad := `[{"symbol":"AAPL","strike":"not-a-number","expiration":"2026-02-14","staged_contracts":1}]`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
