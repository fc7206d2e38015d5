package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	vigil "github.com/ardelia/vigil"
	"gopkg.in/yaml.v3"
)

// Pipeline is the full per-round memory stage: timeline append is done
// by the scheduler through Manager; Pipeline adds the snapshot audit
// and the feed append. It implements vigil.Memory.
type Pipeline struct {
	*Manager
	primary  vigil.Provider // auditor model (small, low temperature)
	fallback vigil.Provider // main model, used when the auditor fails
	logger   *slog.Logger
}

// NewPipeline wires the auditor models onto a Manager. fallback may
// equal primary; logger may be nil.
func NewPipeline(m *Manager, primary, fallback vigil.Provider, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{Manager: m, primary: primary, fallback: fallback, logger: logger}
}

// auditorTemperature keeps the delta output conservative.
var auditorTemperature = 0.2

const auditorSystemPrompt = `You maintain a YAML inventory of an autonomous agent's server environment.
You receive the current inventory, the agent's action log for the round just
finished, and the agent's final output. Respond with ONE YAML document and
nothing else.

Rules:
- Output only what changed: "add", "update" and "remove" blocks keyed by
  section (services, projects, tools, documents, environment, issues).
- Identity fields: services use "name"; projects, tools and documents use
  "path"; issues use "summary". Every update patch must carry the section's
  identity field.
- "update" replaces the listed fields on the matching entry. For
  "environment" give a flat mapping of changed keys.
- Mark fixed issues with status: resolved. Do not re-add resolved issues.
- If nothing changed, output "no_changes: true".
- Always include an "activity" block: a short first-person post describing
  what the agent did this round, with a "tags" list. You may add a "quote"
  — a short verbatim sentence taken ONLY from the agent's final output.`

// UpdateSnapshot runs the auditor call, merges the returned delta into
// the snapshot, saves it atomically, and appends the activity feed
// post. When both models fail the error is fatal to the loop.
func (p *Pipeline) UpdateSnapshot(ctx context.Context, e vigil.TimelineEntry, finalOutput string) error {
	snapshot, err := p.LoadSnapshot()
	if err != nil {
		p.logger.Warn("snapshot unreadable, starting empty", "error", err)
		snapshot = emptySnapshot()
	}
	current, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("memory: serialize snapshot: %w", err)
	}

	req := vigil.ChatRequest{
		Messages: []vigil.ChatMessage{
			vigil.SystemMessage(auditorSystemPrompt),
			vigil.UserMessage(auditorInput(string(current), e, finalOutput)),
		},
		Temperature: &auditorTemperature,
	}

	delta, primaryErr := p.callAuditor(ctx, p.primary, req)
	if primaryErr != nil {
		p.logger.Warn("auditor model failed, trying fallback",
			"model", providerName(p.primary), "error", primaryErr)
		var fallbackErr error
		delta, fallbackErr = p.callAuditor(ctx, p.fallback, req)
		if fallbackErr != nil {
			return &vigil.ErrSnapshotUpdate{Primary: primaryErr, Fallback: fallbackErr}
		}
	}

	snapshot.Merge(delta, e.Round, time.Now())
	if err := p.SaveSnapshot(snapshot); err != nil {
		return err
	}

	if delta.Activity != nil && strings.TrimSpace(delta.Activity.Content) != "" {
		post := vigil.FeedPost{
			Round:     e.Round,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Content:   strings.TrimSpace(delta.Activity.Content),
			Tags:      normalizeTags(delta.Activity.Tags),
			Quote:     strings.TrimSpace(delta.Activity.Quote),
		}
		if err := p.AppendFeed(post); err != nil {
			p.logger.Warn("feed append failed", "round", e.Round, "error", err)
		}
	}
	return nil
}

func (p *Pipeline) callAuditor(ctx context.Context, provider vigil.Provider, req vigil.ChatRequest) (*Delta, error) {
	if provider == nil {
		return nil, fmt.Errorf("no auditor model configured")
	}
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseDelta(resp.Content)
}

func auditorInput(snapshotYAML string, e vigil.TimelineEntry, finalOutput string) string {
	var b strings.Builder
	b.WriteString("Current inventory:\n```yaml\n")
	b.WriteString(snapshotYAML)
	b.WriteString("\n```\n\n")
	fmt.Fprintf(&b, "Round %d action log:\n%s\n\n", e.Round, e.ActionLog)
	b.WriteString("Agent final output (quote source):\n")
	b.WriteString(finalOutput)
	return b.String()
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimPrefix(t, "#"))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func providerName(p vigil.Provider) string {
	if p == nil {
		return "none"
	}
	return p.Name()
}
