package vigil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// roundConfig is everything one pass through the tool loop needs.
type roundConfig struct {
	provider Provider
	executor ToolExecutor
	bus      *Bus
	runLog   RunLog
	limit    int             // normal tool budget
	stop     <-chan struct{} // cooperative cancel, checked before LLM calls
	logger   *slog.Logger
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// runRound drives the streamed LLM to completion or budget exhaustion.
// Stream and API failures end the round with the summary collected so
// far; the next round proceeds regardless.
func runRound(ctx context.Context, cfg roundConfig, messages []ChatMessage) RoundResult {
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	var summary, actionLog []string
	used := 0

	result := func(errText string) RoundResult {
		return RoundResult{
			ToolsUsed: used,
			Summary:   strings.Join(summary, "\n"),
			ActionLog: strings.Join(actionLog, "\n"),
			Err:       errText,
		}
	}

	for {
		if stopped(cfg.stop) {
			return result("")
		}

		cfg.bus.Loading("calling model")
		resp, err := cfg.streamOnce(ctx, messages)
		if err != nil {
			cfg.runLog.Printf("[ERROR] model call failed: %v", err)
			return result(err.Error())
		}

		now := time.Now()
		stamp := now.Format("15:04:05")
		assistant := ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			Reasoning: resp.Reasoning,
			ToolCalls: resp.ToolCalls,
			Timestamp: now,
		}
		messages = append(messages, assistant)

		blocks := stampedBlocks(stamp, resp.Reasoning, resp.Content)
		summary = append(summary, blocks...)
		for _, b := range blocks {
			cfg.runLog.Printf("[AGENT] %s", b)
		}
		cfg.bus.ThoughtDone(assistantText(resp))

		// No tool calls: the agent's turn is its final summary.
		if len(resp.ToolCalls) == 0 {
			return result("")
		}

		// This turn triggered tools — it belongs to the action log.
		actionLog = append(actionLog, blocks...)

		for _, tc := range resp.ToolCalls {
			used++

			var text string
			if used > cfg.limit {
				// Past the normal budget the call is recorded, not run:
				// the hint takes the place of the tool result.
				text = exhaustedResult(used, cfg.limit)
			} else {
				text = cfg.dispatch(ctx, tc)
				text = budgetHint(used, cfg.limit) + "\n\n" + text
			}

			messages = append(messages, ToolResultMessage(tc.ID, text))
			cfg.bus.ToolResultEvent(tc.Name, text)
			cfg.runLog.Printf("[RESULT] %s", firstLines(text, 20))

			if used >= cfg.limit+hardLimitSlack {
				cfg.logger.Warn("hard tool limit reached, ending round", "used", used, "limit", cfg.limit)
				cfg.runLog.Printf("[LIMIT] hard tool limit reached (%d), ending round", used)
				return result("")
			}
		}
	}
}

// streamOnce opens one model stream, re-emits text and reasoning deltas to
// the bus as they arrive, and returns the ChatResponse the provider built.
func (cfg roundConfig) streamOnce(ctx context.Context, messages []ChatMessage) (ChatResponse, error) {
	ch := make(chan StreamEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Type {
			case EventTextDelta, EventReasoningDelta:
				cfg.bus.ThoughtChunk(ev.Content)
			}
		}
	}()

	resp, err := cfg.provider.ChatStream(ctx, ChatRequest{
		Messages: messages,
		Tools:    cfg.executor.Definitions(),
	}, ch)
	<-done
	return resp, err
}

// dispatch parses (repairing if needed) and executes a single call.
func (cfg roundConfig) dispatch(ctx context.Context, tc ToolCall) string {
	cfg.bus.Loading("executing " + tc.Name)
	cfg.bus.ToolCallEvent(tc.Name, tc.Args)
	cfg.runLog.Printf("[TOOL] %s(%s)", tc.Name, firstLines(tc.Args, 1))

	args := repairJSON(tc.Args, tc.Name)
	if args == nil {
		return fmt.Sprintf(
			"(error: could not parse the arguments for %s: they were not valid JSON. Re-issue the call with a well-formed JSON object.)",
			tc.Name)
	}
	if !json.Valid(args) || !strings.HasPrefix(strings.TrimSpace(string(args)), "{") {
		return fmt.Sprintf("(error: %s arguments must be a JSON object)", tc.Name)
	}
	return cfg.executor.Execute(ctx, tc.Name, args)
}

// stampedBlocks prefixes each non-empty payload with the local stamp.
// Reasoning and content form separate blocks so the final-output
// extraction can find the closing text.
func stampedBlocks(stamp string, reasoning, content string) []string {
	var out []string
	if strings.TrimSpace(reasoning) != "" {
		out = append(out, fmt.Sprintf("[%s] %s", stamp, strings.TrimSpace(reasoning)))
	}
	if strings.TrimSpace(content) != "" {
		out = append(out, fmt.Sprintf("[%s] %s", stamp, strings.TrimSpace(content)))
	}
	return out
}

func assistantText(resp ChatResponse) string {
	if resp.Content != "" {
		return resp.Content
	}
	return resp.Reasoning
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-n)
}
