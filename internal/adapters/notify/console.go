// Package notify renders an ExecutionReport to the console using
// box-drawing headers and a tablewriter table.
package notify

import (
	"context"
	"fmt"
	"os"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console renders an ExecutionReport to stdout.
type Console struct{}

// NewConsole constructs a Console notifier.
func NewConsole() *Console {
	return &Console{}
}

// Notify implements ports.Notifier.
func (c *Console) Notify(ctx context.Context, report domain.ExecutionReport) error {
	fmt.Printf("\n╔══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║  EXECUTION REPORT — %s\n", report.Date.Format("2006-01-02"))
	fmt.Printf("╚══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("staged=%d validated=%d confirmed=%d submitted=%d\n",
		report.Staged, report.Validated, report.Confirmed, report.Submitted)
	fmt.Printf("filled=%d working=%d failed=%d skipped=%d\n",
		len(report.Filled), len(report.Working), len(report.Failed), len(report.Skipped))
	fmt.Printf("total premium: $%s\n\n", report.TotalPremium.StringFixed(2))

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Symbol", "Strike", "Order ID", "Type", "Limit", "Fill", "Contracts", "Outcome")

	all := append(append(append([]domain.ExecutionSummary{}, report.Filled...), report.Working...), report.Failed...)
	all = append(all, report.Skipped...)
	for _, s := range all {
		table.Append(
			s.Symbol,
			s.Strike.StringFixed(2),
			s.OrderID,
			string(s.OrderType),
			s.SubmittedLimit.StringFixed(2),
			s.FillPrice.StringFixed(2),
			fmt.Sprintf("%d", s.ContractsFilled),
			s.Outcome,
		)
	}
	table.Render()

	if len(report.Warnings) > 0 {
		fmt.Println("\nwarnings:")
		for _, w := range report.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	return nil
}
