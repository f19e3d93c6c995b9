// Package prompt implements the hybrid-mode operator prompt over stdin.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alejandrodnm/putpipeline/internal/domain"
	"github.com/alejandrodnm/putpipeline/internal/scheduler"
)

// Console asks the operator, on stdin/stdout, whether to execute the
// confirmed candidates.
type Console struct{}

// NewConsole constructs a Console prompter.
func NewConsole() *Console {
	return &Console{}
}

// Prompt implements scheduler.Prompter.
func (c *Console) Prompt(ctx context.Context, candidates []domain.Candidate) (scheduler.UserDecision, error) {
	fmt.Printf("\n%d candidate(s) confirmed for submission:\n", len(candidates))
	for _, cand := range candidates {
		fmt.Printf("  %s %s %s x%d @ %s\n", cand.Symbol, cand.EffectiveStrike().StringFixed(2), cand.Expiration.Format("2006-01-02"), cand.StagedContracts, cand.EffectiveLimit().StringFixed(2))
	}
	fmt.Print("execute / wait / abort? [e/w/a]: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return scheduler.DecisionAbort, scanner.Err()
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "e", "execute":
		return scheduler.DecisionExecute, nil
	case "w", "wait":
		return scheduler.DecisionWait, nil
	default:
		return scheduler.DecisionAbort, nil
	}
}
