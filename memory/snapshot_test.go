package memory

import (
	"strings"
	"testing"
	"time"
)

func baseSnapshot() *Snapshot {
	return &Snapshot{
		Meta: Meta{Round: 5, LastUpdated: "2026-07-01T00:00:00Z"},
		Services: []Entry{
			{"name": "api", "port": 3000, "status": "up"},
		},
		Projects: []Entry{
			{"path": "/home/agent/blog", "description": "static site"},
		},
		Environment: map[string]any{"os": "debian"},
		Issues: []Entry{
			{"summary": "X", "status": "open", "discovered": 5},
		},
	}
}

func TestMergeAddUpdateRemove(t *testing.T) {
	s := baseSnapshot()
	d := &Delta{
		Add: map[string][]Entry{
			"services": {{"name": "web", "port": 80}},
			"tools":    {{"path": "/home/agent/bin/backup.sh"}},
		},
		Update: map[string]any{
			"services": []any{
				map[string]any{"name": "api", "status": "down"},
			},
			"environment": map[string]any{"disk": "71%"},
		},
		Remove: map[string][]string{
			"projects": {"/home/agent/blog"},
		},
	}
	s.Merge(d, 6, time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC))

	if len(s.Services) != 2 {
		t.Fatalf("services = %d, want 2", len(s.Services))
	}
	if s.Services[0]["status"] != "down" {
		t.Errorf("api status = %v, want down (update replaces the field)", s.Services[0]["status"])
	}
	if s.Services[0]["port"] != 3000 {
		t.Errorf("untouched field lost: port = %v", s.Services[0]["port"])
	}
	if len(s.Projects) != 0 {
		t.Errorf("projects = %v, want removed", s.Projects)
	}
	if len(s.Tools) != 1 {
		t.Errorf("tools = %v", s.Tools)
	}
	if s.Environment["disk"] != "71%" || s.Environment["os"] != "debian" {
		t.Errorf("environment merge wrong: %v", s.Environment)
	}
	if s.Meta.Round != 6 {
		t.Errorf("meta.round = %d", s.Meta.Round)
	}
	if s.Meta.LastUpdated != "2026-07-02T00:00:00Z" {
		t.Errorf("meta.last_updated = %s", s.Meta.LastUpdated)
	}
}

func TestMergeResolveIssuePurged(t *testing.T) {
	// Marking an issue resolved plus adding a service: the issue must
	// not survive the merge.
	s := baseSnapshot()
	d := &Delta{
		Update: map[string]any{
			"issues": []any{
				map[string]any{"summary": "X", "status": "resolved"},
			},
		},
		Add: map[string][]Entry{
			"services": {{"name": "web", "port": 80}},
		},
	}
	s.Merge(d, 6, time.Now())

	if len(s.Issues) != 0 {
		t.Errorf("issues = %v, want empty after resolve", s.Issues)
	}
	if s.find("services", "web") < 0 {
		t.Error("added service missing")
	}
}

func TestMergeAddSkipsDuplicateKeys(t *testing.T) {
	s := baseSnapshot()
	d := &Delta{
		Add: map[string][]Entry{
			"services": {{"name": "api", "port": 9999, "status": "ghost"}},
		},
	}
	s.Merge(d, 6, time.Now())

	if len(s.Services) != 1 {
		t.Fatalf("services = %d, want 1", len(s.Services))
	}
	if s.Services[0]["port"] != 3000 {
		t.Errorf("duplicate add overwrote existing entry: %v", s.Services[0])
	}
}

func TestMergeNoChangesIsIdentityExceptMeta(t *testing.T) {
	s := baseSnapshot()
	d := &Delta{NoChanges: true}
	s.Merge(d, 9, time.Now())

	if len(s.Services) != 1 || len(s.Projects) != 1 || len(s.Issues) != 1 {
		t.Errorf("no_changes delta altered content: %+v", s)
	}
	if s.Meta.Round != 9 {
		t.Errorf("meta.round = %d, want 9", s.Meta.Round)
	}
}

func TestMergeAddThenRemoveIsNoop(t *testing.T) {
	s := baseSnapshot()
	before := len(s.Services)

	s.Merge(&Delta{Add: map[string][]Entry{"services": {{"name": "tmp"}}}}, 6, time.Now())
	s.Merge(&Delta{Remove: map[string][]string{"services": {"tmp"}}}, 7, time.Now())

	if len(s.Services) != before {
		t.Errorf("services = %d, want %d", len(s.Services), before)
	}
	if s.find("services", "api") < 0 {
		t.Error("unrelated entry disturbed")
	}
}

func TestMergeUpdateUnknownKeyIgnored(t *testing.T) {
	s := baseSnapshot()
	s.Merge(&Delta{Update: map[string]any{
		"services": []any{map[string]any{"name": "ghost", "status": "up"}},
	}}, 6, time.Now())
	if len(s.Services) != 1 {
		t.Errorf("update of unknown key changed the section: %v", s.Services)
	}
}

func TestParseDeltaWithFences(t *testing.T) {
	text := "```yaml\n" +
		"no_changes: true\n" +
		"activity:\n  content: quiet round\n  tags: [idle]\n" +
		"```"
	d, err := ParseDelta(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !d.NoChanges {
		t.Error("no_changes lost")
	}
	if d.Activity == nil || d.Activity.Content != "quiet round" {
		t.Errorf("activity = %+v", d.Activity)
	}
}

func TestParseDeltaInvalid(t *testing.T) {
	if _, err := ParseDelta(": not yaml ["); err == nil {
		t.Error("expected parse error")
	}
}

func TestRenderMarkdownStableOrder(t *testing.T) {
	s := baseSnapshot()
	s.Tools = []Entry{{"path": "/home/agent/bin/x", "description": "helper"}}
	s.Documents = []Entry{{"path": "/home/agent/notes.md"}}
	s.Issues = append(s.Issues, Entry{"summary": "closed one", "status": "resolved"})

	md := RenderMarkdown(s)

	order := []string{"System Snapshot", "### Services", "### Projects", "### Tools", "### Documents", "### Environment", "### Open Issues"}
	pos := -1
	for _, section := range order {
		idx := strings.Index(md, section)
		if idx < 0 {
			t.Fatalf("section %q missing:\n%s", section, md)
		}
		if idx < pos {
			t.Errorf("section %q out of order", section)
		}
		pos = idx
	}
	if !strings.Contains(md, "| api | 3000 | up |") {
		t.Errorf("service row missing:\n%s", md)
	}
	if strings.Contains(md, "closed one") {
		t.Error("resolved issue rendered")
	}
	if !strings.Contains(md, "- X (discovered round 5)") {
		t.Errorf("open issue missing:\n%s", md)
	}
}

func TestSnapshotRoundTripThroughDisk(t *testing.T) {
	m := newTestManager(t)
	s := baseSnapshot()
	if err := m.SaveSnapshot(s); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := m.LoadSnapshot()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Meta.Round != 5 || len(loaded.Services) != 1 {
		t.Errorf("round trip lost data: %+v", loaded)
	}
	if loaded.Services[0]["name"] != "api" {
		t.Errorf("service = %v", loaded.Services[0])
	}
}

func TestLoadSnapshotMissingIsEmpty(t *testing.T) {
	m := newTestManager(t)
	s, err := m.LoadSnapshot()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Meta.Round != 0 || len(s.Services) != 0 {
		t.Errorf("empty snapshot = %+v", s)
	}
}
