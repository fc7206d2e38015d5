package vigil

import "fmt"

// hardLimitSlack is how many tool calls past the normal limit the loop
// tolerates before forcing an exit. The overrun exists so a multi-call
// assistant turn straddling the limit still gets its tool messages.
const hardLimitSlack = 3

// budgetHint returns the deterministic string prepended to every tool
// result. used is the count after the current call; limit is the normal
// per-round budget. Four bands: ample, wrap-up advised, warn, exhausted.
// The hint is a prompt-to-self for the agent, not enforcement.
func budgetHint(used, limit int) string {
	switch {
	case used >= limit:
		return fmt.Sprintf(
			"[Budget %d/%d] Tool budget exhausted. Stop calling tools and write your final summary for this round.",
			used, limit)
	case used == limit-1:
		return fmt.Sprintf(
			"[Budget %d/%d] Only one tool call remains. Finish the current step and summarize.",
			used, limit)
	case used >= limit-3:
		return fmt.Sprintf(
			"[Budget %d/%d] Budget is running low. Start wrapping up this round's work.",
			used, limit)
	default:
		return fmt.Sprintf("[Budget %d/%d]", used, limit)
	}
}

// exhaustedResult is returned in place of a tool result once the normal
// budget is spent: the call is recorded but not executed.
func exhaustedResult(used, limit int) string {
	return fmt.Sprintf(
		"[Budget %d/%d] Tool budget exhausted. This call was not executed. Write your final summary for this round.",
		used, limit)
}
