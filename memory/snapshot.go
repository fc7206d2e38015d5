package memory

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot is the structured inventory of the agent's world, maintained
// by the auditor model. Exactly one exists; it is replaced wholesale on
// every merge.
type Snapshot struct {
	Meta        Meta             `yaml:"meta"`
	Services    []Entry          `yaml:"services"`
	Projects    []Entry          `yaml:"projects"`
	Tools       []Entry          `yaml:"tools"`
	Documents   []Entry          `yaml:"documents"`
	Environment map[string]any   `yaml:"environment"`
	Issues      []Entry          `yaml:"issues"`
}

// Meta stamps the snapshot with its provenance.
type Meta struct {
	Round       int    `yaml:"round"`
	LastUpdated string `yaml:"last_updated"`
}

// Entry is one open-schema record in a snapshot list section. The
// auditor decides the fields; only the section's key field is fixed.
type Entry map[string]any

// sectionKey maps each list section to its identity field.
var sectionKey = map[string]string{
	"services":  "name",
	"projects":  "path",
	"tools":     "path",
	"documents": "path",
	"issues":    "summary",
}

// sectionOrder is the stable render order for the markdown view.
var sectionOrder = []string{"services", "projects", "tools", "documents"}

func emptySnapshot() *Snapshot {
	return &Snapshot{Environment: map[string]any{}}
}

func (s *Snapshot) section(name string) *[]Entry {
	switch name {
	case "services":
		return &s.Services
	case "projects":
		return &s.Projects
	case "tools":
		return &s.Tools
	case "documents":
		return &s.Documents
	case "issues":
		return &s.Issues
	default:
		return nil
	}
}

func (e Entry) key(section string) string {
	field := sectionKey[section]
	if field == "" {
		return ""
	}
	v, _ := e[field].(string)
	return v
}

// --- Delta ---

// Delta is the auditor's per-round patch. Consumed once, never stored.
type Delta struct {
	NoChanges bool               `yaml:"no_changes"`
	Activity  *Activity          `yaml:"activity"`
	Add       map[string][]Entry `yaml:"add"`
	Update    map[string]any     `yaml:"update"`
	Remove    map[string][]string `yaml:"remove"`
}

// Activity is the public record of what happened this round.
type Activity struct {
	Content string   `yaml:"content"`
	Tags    []string `yaml:"tags"`
	Quote   string   `yaml:"quote"`
}

// ParseDelta decodes the auditor's YAML output. Markdown fences around
// the document are tolerated.
func ParseDelta(text string) (*Delta, error) {
	text = stripFences(text)
	var d Delta
	if err := yaml.Unmarshal([]byte(text), &d); err != nil {
		return nil, fmt.Errorf("parse delta: %w", err)
	}
	return &d, nil
}

func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	if idx := strings.Index(t, "\n"); idx >= 0 {
		t = t[idx+1:]
	}
	if idx := strings.LastIndex(t, "```"); idx >= 0 {
		t = t[:idx]
	}
	return strings.TrimSpace(t)
}

// Merge applies a delta in place and stamps meta. Semantics: add skips
// keys already present; update overlays fields on the matching entry
// (values describe current state, not history); update.environment is a
// shallow dict merge; remove deletes by key; issues with a resolved
// status never survive a merge.
func (s *Snapshot) Merge(d *Delta, round int, now time.Time) {
	if d != nil && !d.NoChanges {
		s.applyAdds(d.Add)
		s.applyUpdates(d.Update)
		s.applyRemoves(d.Remove)
	}

	if s.Environment == nil {
		s.Environment = map[string]any{}
	}
	s.purgeResolvedIssues()
	s.Meta.Round = round
	s.Meta.LastUpdated = now.UTC().Format(time.RFC3339)
}

func (s *Snapshot) applyAdds(add map[string][]Entry) {
	for name, entries := range add {
		sec := s.section(name)
		if sec == nil {
			continue
		}
		for _, entry := range entries {
			k := entry.key(name)
			if k == "" || s.find(name, k) >= 0 {
				continue
			}
			*sec = append(*sec, entry)
		}
	}
}

func (s *Snapshot) applyUpdates(update map[string]any) {
	for name, raw := range update {
		if name == "environment" {
			if patch, ok := raw.(map[string]any); ok {
				if s.Environment == nil {
					s.Environment = map[string]any{}
				}
				for k, v := range patch {
					s.Environment[k] = v
				}
			}
			continue
		}

		sec := s.section(name)
		if sec == nil {
			continue
		}
		patches, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, p := range patches {
			patch := toEntry(p)
			if patch == nil {
				continue
			}
			k := patch.key(name)
			if k == "" {
				continue
			}
			idx := s.find(name, k)
			if idx < 0 {
				continue
			}
			for field, v := range patch {
				(*sec)[idx][field] = v
			}
		}
	}
}

func (s *Snapshot) applyRemoves(remove map[string][]string) {
	for name, keys := range remove {
		sec := s.section(name)
		if sec == nil || len(keys) == 0 {
			continue
		}
		doomed := make(map[string]bool, len(keys))
		for _, k := range keys {
			doomed[k] = true
		}
		kept := (*sec)[:0]
		for _, entry := range *sec {
			if !doomed[entry.key(name)] {
				kept = append(kept, entry)
			}
		}
		*sec = kept
	}
}

func (s *Snapshot) purgeResolvedIssues() {
	kept := s.Issues[:0]
	for _, issue := range s.Issues {
		if status, _ := issue["status"].(string); status == "resolved" {
			continue
		}
		kept = append(kept, issue)
	}
	s.Issues = kept
}

func (s *Snapshot) find(section, key string) int {
	sec := s.section(section)
	if sec == nil {
		return -1
	}
	for i, entry := range *sec {
		if entry.key(section) == key {
			return i
		}
	}
	return -1
}

// toEntry normalizes yaml's map[string]any / map[any]any decodings.
func toEntry(v any) Entry {
	switch m := v.(type) {
	case map[string]any:
		return Entry(m)
	case Entry:
		return m
	case map[any]any:
		out := Entry{}
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out
	default:
		return nil
	}
}

// --- Persistence ---

// LoadSnapshot reads the snapshot document; a missing file yields an
// empty snapshot.
func (m *Manager) LoadSnapshot() (*Snapshot, error) {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return emptySnapshot(), nil
		}
		return nil, fmt.Errorf("memory: read snapshot: %w", err)
	}
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("memory: parse snapshot: %w", err)
	}
	if s.Environment == nil {
		s.Environment = map[string]any{}
	}
	return &s, nil
}

// SaveSnapshot replaces the snapshot atomically (write-then-rename).
func (m *Manager) SaveSnapshot(s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("memory: marshal snapshot: %w", err)
	}
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("memory: replace snapshot: %w", err)
	}
	return nil
}

// SnapshotYAML returns the raw snapshot document for the console.
func (m *Manager) SnapshotYAML() string {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		return ""
	}
	return string(data)
}

// --- Markdown render ---

// SnapshotMarkdown renders the current snapshot for prompt injection.
func (m *Manager) SnapshotMarkdown() string {
	s, err := m.LoadSnapshot()
	if err != nil {
		return ""
	}
	return RenderMarkdown(s)
}

// RenderMarkdown produces the stable markdown view of a snapshot:
// meta, services as a table, projects/tools/documents as lists,
// environment inline, then open issues. Closed issues are omitted.
func RenderMarkdown(s *Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## System Snapshot (round %d, updated %s)\n", s.Meta.Round, s.Meta.LastUpdated)

	if len(s.Services) > 0 {
		b.WriteString("\n### Services\n\n| name | port | status | start |\n|---|---|---|---|\n")
		for _, svc := range s.Services {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				str(svc["name"]), str(svc["port"]), str(svc["status"]), str(svc["start"]))
		}
	}

	for _, name := range sectionOrder[1:] {
		sec := *s.section(name)
		if len(sec) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n", strings.ToUpper(name[:1])+name[1:])
		for _, entry := range sec {
			line := "- " + entry.key(name)
			if desc := str(entry["description"]); desc != "" {
				line += " — " + desc
			}
			b.WriteString(line + "\n")
		}
	}

	if len(s.Environment) > 0 {
		b.WriteString("\n### Environment\n")
		keys := make([]string, 0, len(s.Environment))
		for k := range s.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, str(s.Environment[k])))
		}
		b.WriteString(strings.Join(parts, " | ") + "\n")
	}

	open := openIssues(s.Issues)
	if len(open) > 0 {
		b.WriteString("\n### Open Issues\n")
		for _, issue := range open {
			line := "- " + issue.key("issues")
			if d := str(issue["discovered"]); d != "" {
				line += fmt.Sprintf(" (discovered round %s)", d)
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}

func openIssues(issues []Entry) []Entry {
	var out []Entry
	for _, issue := range issues {
		if status, _ := issue["status"].(string); status == "resolved" || status == "closed" {
			continue
		}
		out = append(out, issue)
	}
	return out
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
