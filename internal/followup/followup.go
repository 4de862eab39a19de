// Package followup turns a confirmed pending step into the next agent
// instruction, and a finished operation into a completion message.
package followup

import (
	"fmt"
	"strings"

	"github.com/rofergon/Hedron/internal/domain"
)

// Key identifies a continuation by tool family and stage.
type Key struct {
	Tool string
	Step string
}

// instructions maps each supported continuation, keyed by the step still to
// be prepared, to the sentence that opens the follow-up instruction. New
// tool families are added here.
var instructions = map[Key]string{
	{"bonzo_deposit", "approval"}: "The token association for the Bonzo Finance deposit is confirmed. Now prepare the approval using bonzo_deposit with step \"approval\".",
	{"bonzo_deposit", "deposit"}:  "The previous transaction for the Bonzo Finance deposit is confirmed. Now prepare the final deposit using bonzo_deposit with step \"deposit\".",

	{"bonzo_withdraw", "withdraw"}: "Now prepare the Bonzo Finance withdrawal using bonzo_withdraw with step \"withdraw\".",

	{"saucerswap_swap", "approval"}: "The token association for the SaucerSwap swap is confirmed. Now prepare the approval using saucerswap_swap with step \"approval\".",
	{"saucerswap_swap", "swap"}:     "The previous transaction for the SaucerSwap swap is confirmed. Now prepare the swap using saucerswap_swap with step \"swap\".",

	{"saucerswap_stake", "stake"}: "The SAUCE approval for staking is confirmed. Now prepare the stake using saucerswap_stake with step \"stake\".",

	{"autoswap_limit_order", "create_order"}: "The token approval for the limit order is confirmed. Now create the order using autoswap_limit_order with step \"create_order\".",
}

// Supported reports whether k has a dedicated instruction.
func Supported(k Key) bool {
	_, ok := instructions[k]
	return ok
}

// Instruction builds the agent instruction for a confirmed step. The text
// always names the step, lists the carried parameters in sorted order, and
// ends with the step's own hint when present.
func Instruction(step *domain.PendingStep, accountID string) string {
	if step == nil {
		return ""
	}
	var b strings.Builder
	if lead, ok := instructions[Key{step.Tool, step.Step}]; ok {
		b.WriteString(lead)
	} else {
		fmt.Fprintf(&b, "Execute the %s step for %s.", step.Step, step.Tool)
	}
	fmt.Fprintf(&b, "\nStep to prepare: %s (%s).", step.Step, step.Tool)
	fmt.Fprintf(&b, "\nAccount: %s.", accountID)

	if keys := step.ParamKeys(); len(keys) > 0 {
		b.WriteString("\nUse exactly these original parameters:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %v", k, step.OriginalParams[k])
		}
	}
	if step.NextStepInstructions != "" {
		b.WriteString("\n")
		b.WriteString(step.NextStepInstructions)
	}
	return b.String()
}

// OpKey identifies a completion message by protocol and operation.
type OpKey struct {
	Protocol  string
	Operation string
}

var summaries = map[OpKey]func(op *domain.OperationContext) string{
	{"bonzo", "deposit"}: func(op *domain.OperationContext) string {
		return fmt.Sprintf("Your deposit of %s into Bonzo Finance is complete. You are now earning interest on it.", amountOr(op, "your tokens"))
	},
	{"bonzo", "withdraw"}: func(op *domain.OperationContext) string {
		return fmt.Sprintf("Your withdrawal of %s from Bonzo Finance is complete.", amountOr(op, "your tokens"))
	},
	{"saucerswap", "swap"}: func(op *domain.OperationContext) string {
		if len(op.Tokens) == 2 {
			return fmt.Sprintf("Your swap of %s from %s to %s on SaucerSwap is complete.", amountOr(op, "tokens"), op.Tokens[0], op.Tokens[1])
		}
		return fmt.Sprintf("Your swap of %s on SaucerSwap is complete.", amountOr(op, "tokens"))
	},
	{"saucerswap", "stake"}: func(op *domain.OperationContext) string {
		return fmt.Sprintf("You staked %s in the SaucerSwap Infinity Pool and will receive xSAUCE.", amountOr(op, "your SAUCE"))
	},
	{"autoswap", "limit_order"}: func(op *domain.OperationContext) string {
		return fmt.Sprintf("Your limit order for %s is live. It will execute automatically when the target price is reached.", amountOr(op, "your tokens"))
	},
}

// Summary returns the completion message for op; ok is false when no
// template matches.
func Summary(op *domain.OperationContext) (string, bool) {
	if op == nil {
		return "", false
	}
	key := OpKey{strings.ToLower(op.Protocol), strings.ToLower(op.Operation)}
	tmpl, ok := summaries[key]
	if !ok {
		return "", false
	}
	return tmpl(op), true
}

func amountOr(op *domain.OperationContext, fallback string) string {
	if op.AmountLabel != "" {
		return op.AmountLabel
	}
	return fallback
}
