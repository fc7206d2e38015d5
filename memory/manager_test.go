package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	vigil "github.com/ardelia/vigil"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func entry(round int, summary string) vigil.TimelineEntry {
	return vigil.TimelineEntry{
		Round:     round,
		Timestamp: "2026-07-01T10:00:00Z",
		ToolsUsed: 2,
		Duration:  1.5,
		Summary:   summary,
	}
}

func TestTimelineAppendAndRead(t *testing.T) {
	m := newTestManager(t)
	for _, r := range []int{1, 2, 3} {
		if err := m.AppendTimeline(entry(r, "round")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all := m.AllTimeline()
	if len(all) != 3 {
		t.Fatalf("entries = %d, want 3", len(all))
	}
	for i, e := range all {
		if e.Round != i+1 {
			t.Errorf("entry %d round = %d", i, e.Round)
		}
	}
	if m.LastRound() != 3 {
		t.Errorf("last round = %d", m.LastRound())
	}

	recent := m.RecentTimeline(2)
	if len(recent) != 2 || recent[0].Round != 2 {
		t.Errorf("recent = %+v", recent)
	}
}

func TestTimelineToleratesTornLines(t *testing.T) {
	m := newTestManager(t)
	m.AppendTimeline(entry(1, "good"))

	// Simulate a torn final line from a crashed append.
	shard, _ := filepath.Glob(filepath.Join(m.timelineDir, "*.jsonl"))
	f, err := os.OpenFile(shard[0], os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"round": 2, "summ`)
	f.Close()

	all := m.AllTimeline()
	if len(all) != 1 || all[0].Round != 1 {
		t.Errorf("entries = %+v, want only the intact one", all)
	}
	if m.LastRound() != 1 {
		t.Errorf("last round = %d", m.LastRound())
	}
}

func TestTimelineUnknownFieldsTolerated(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(m.timelineDir, "2026-07-01.jsonl")
	line := `{"round":7,"timestamp":"t","tools_used":1,"duration":2,"summary":"s","action_log":"","novel_field":{"a":1}}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
	all := m.AllTimeline()
	if len(all) != 1 || all[0].Round != 7 {
		t.Errorf("entries = %+v", all)
	}
}

func TestDeleteRound(t *testing.T) {
	m := newTestManager(t)
	for _, r := range []int{1, 2, 3} {
		m.AppendTimeline(entry(r, "round"))
	}
	m.RoundSeparator(2)
	m.Printf("[AGENT] doing round 2 things")
	m.RoundSeparator(3)
	m.Printf("[AGENT] round 3 business")

	timeline, logs := m.DeleteRound(2)
	if !timeline || !logs {
		t.Fatalf("delete found timeline=%v logs=%v", timeline, logs)
	}

	for _, e := range m.AllTimeline() {
		if e.Round == 2 {
			t.Error("round 2 still in timeline")
		}
	}
	logFiles, _ := filepath.Glob(filepath.Join(m.logsDir, "*.log"))
	data, _ := os.ReadFile(logFiles[0])
	if strings.Contains(string(data), "round 2 things") {
		t.Errorf("round 2 log section survived:\n%s", data)
	}
	if !strings.Contains(string(data), "round 3 business") {
		t.Errorf("round 3 log section lost:\n%s", data)
	}
}

func TestDeleteRoundNotFound(t *testing.T) {
	m := newTestManager(t)
	m.AppendTimeline(entry(1, "only"))
	timeline, logs := m.DeleteRound(99)
	if timeline || logs {
		t.Errorf("delete of missing round reported found (%v, %v)", timeline, logs)
	}
}

func TestInspirationOneShot(t *testing.T) {
	m := newTestManager(t)

	if _, ok := m.TakeInspiration(); ok {
		t.Fatal("inspiration present before write")
	}
	if err := m.WriteInspiration("go outside"); err != nil {
		t.Fatal(err)
	}
	text, ok := m.TakeInspiration()
	if !ok || text != "go outside" {
		t.Fatalf("take = %q, %v", text, ok)
	}
	if _, ok := m.TakeInspiration(); ok {
		t.Error("inspiration not cleared after read")
	}
	if _, err := os.Stat(m.inspirationPath); !os.IsNotExist(err) {
		t.Error("inspiration file still on disk")
	}
}

func TestInspirationOverwrite(t *testing.T) {
	m := newTestManager(t)
	m.WriteInspiration("first")
	m.WriteInspiration("second")
	text, _ := m.TakeInspiration()
	if text != "second" {
		t.Errorf("inspiration = %q, want the replacement", text)
	}
}

func TestFeedAppendAndRead(t *testing.T) {
	m := newTestManager(t)
	posts := []vigil.FeedPost{
		{Round: 1, Timestamp: "t1", Content: "built a thing", Tags: []string{"build"}},
		{Round: 2, Timestamp: "t2", Content: "fixed it", Tags: []string{"fix"}, Quote: "works now"},
	}
	for _, p := range posts {
		if err := m.AppendFeed(p); err != nil {
			t.Fatal(err)
		}
	}
	got := m.AllFeed()
	if len(got) != 2 {
		t.Fatalf("posts = %d", len(got))
	}
	if got[1].Quote != "works now" {
		t.Errorf("quote = %q", got[1].Quote)
	}
}

func TestRunLogFormat(t *testing.T) {
	m := newTestManager(t)
	m.RoundSeparator(7)
	m.Printf("[AGENT] hello")

	files, _ := filepath.Glob(filepath.Join(m.logsDir, "*.log"))
	if len(files) != 1 {
		t.Fatalf("log files = %d", len(files))
	}
	data, _ := os.ReadFile(files[0])
	text := string(data)
	if !strings.Contains(text, "Round 7 |") {
		t.Errorf("separator missing:\n%s", text)
	}
	if !strings.Contains(text, "[AGENT] hello") {
		t.Errorf("log line missing:\n%s", text)
	}
}
