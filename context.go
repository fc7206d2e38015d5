package vigil

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ContextBuilder assembles the message sequence for one round: a system
// message (persona + tool docs + skills index + snapshot), a multi-turn
// replay of recent rounds, the pending inspiration, and the wake-up
// message. The replay presents prior rounds as prior conversations with
// the agent itself, which carries continuity more naturally than an
// injected status report.
type ContextBuilder struct {
	Memory        Memory
	Persona       PersonaProvider
	Skills        SkillLister
	PersonaName   string
	AgentHome     string
	HistoryRounds int // default 3
}

// Build produces the full message sequence for the given round.
func (b *ContextBuilder) Build(round, toolBudget int, defs []ToolDefinition) []ChatMessage {
	messages := []ChatMessage{SystemMessage(b.systemPrompt(defs))}

	history := b.HistoryRounds
	if history <= 0 {
		history = 3
	}
	for _, e := range b.Memory.RecentTimeline(history) {
		messages = append(messages,
			UserMessage(fmt.Sprintf("Round %d | %s | Tools: %d | %.0fs",
				e.Round, e.Timestamp, e.ToolsUsed, e.Duration)),
			ChatMessage{Role: "assistant", Content: FinalOutput(e.Summary)},
		)
	}

	if text, ok := b.Memory.TakeInspiration(); ok {
		messages = append(messages, SystemMessage("A message from your operator:\n\n"+text))
	}

	messages = append(messages, UserMessage(b.wakeUpMessage(round, toolBudget)))
	return messages
}

func (b *ContextBuilder) systemPrompt(defs []ToolDefinition) string {
	var s strings.Builder

	s.WriteString(b.Persona.Load(b.PersonaName))
	s.WriteString("\n\n## Your tools\n\n")
	for _, d := range defs {
		fmt.Fprintf(&s, "- **%s** — %s\n", d.Name, d.Description)
	}
	s.WriteString("\nTool errors come back as text; read them and adapt. " +
		"Each tool result starts with your remaining budget for the round.\n")

	if b.Skills != nil {
		if skills := enabledSkills(b.Skills.List()); len(skills) > 0 {
			s.WriteString("\n## Installed skills\n\n")
			for _, sk := range skills {
				title := sk.Title
				if title == "" {
					title = sk.Name
				}
				fmt.Fprintf(&s, "- %s (%s): %s\n", title, sk.Name, sk.Description)
			}
			s.WriteString("\nRead a skill with skill_read before relying on it.\n")
		}
	}

	if md := b.Memory.SnapshotMarkdown(); md != "" {
		s.WriteString("\n")
		s.WriteString(md)
	}
	return s.String()
}

func (b *ContextBuilder) wakeUpMessage(round, toolBudget int) string {
	return fmt.Sprintf(
		"It is %s (UTC). This is your activation round %d. "+
			"You have a budget of %d tool calls. Your home directory is %s. "+
			"You wake up in your room. What do you do?",
		time.Now().UTC().Format("2006-01-02 15:04"), round, toolBudget, b.AgentHome)
}

func enabledSkills(all []SkillInfo) []SkillInfo {
	var out []SkillInfo
	for _, s := range all {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// timestampPrefix matches the local stamp each summary block opens with.
var timestampPrefix = regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}\] `)

// FinalOutput extracts the agent's post-tool closing text from a round
// summary: everything after the last timestamp-prefixed line.
func FinalOutput(summary string) string {
	locs := timestampPrefix.FindAllStringIndex(summary, -1)
	if len(locs) == 0 {
		return strings.TrimSpace(summary)
	}
	last := locs[len(locs)-1]
	return strings.TrimSpace(summary[last[1]:])
}
