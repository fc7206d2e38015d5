// Package memory owns the runtime's durable state: per-day timeline
// shards, the activity feed, the operator inspiration file, the per-day
// run logs, and the YAML snapshot with its LLM-audited delta merge.
// Files are the truth; everything in memory is rebuilt from them.
package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	vigil "github.com/ardelia/vigil"
)

// Manager is the single writer for everything under the data directory.
type Manager struct {
	dataDir         string
	timelineDir     string
	logsDir         string
	feedPath        string
	snapshotPath    string
	inspirationPath string

	mu     sync.Mutex // serialises writers per §ownership: one file writer at a time
	logger *slog.Logger
}

// NewManager creates the data directory layout if missing.
func NewManager(dataDir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{
		dataDir:         dataDir,
		timelineDir:     filepath.Join(dataDir, "timeline"),
		logsDir:         filepath.Join(dataDir, "logs"),
		feedPath:        filepath.Join(dataDir, "feed.jsonl"),
		snapshotPath:    filepath.Join(dataDir, "snapshot.yaml"),
		inspirationPath: filepath.Join(dataDir, "inspiration.txt"),
		logger:          logger,
	}
	for _, dir := range []string{m.timelineDir, m.logsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("memory: create %s: %w", dir, err)
		}
	}
	return m, nil
}

// DataDir returns the managed data directory.
func (m *Manager) DataDir() string { return m.dataDir }

func todayFilename() string {
	return time.Now().UTC().Format("2006-01-02")
}

// --- Timeline ---

// AppendTimeline writes one round record to today's shard.
func (m *Manager) AppendTimeline(e vigil.TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return appendJSONLine(filepath.Join(m.timelineDir, todayFilename()+".jsonl"), e)
}

// AllTimeline returns every timeline entry in chronological order.
// Partial or malformed lines are skipped, not fatal: readers tolerate a
// torn final line from a concurrent append.
func (m *Manager) AllTimeline() []vigil.TimelineEntry {
	shards, err := filepath.Glob(filepath.Join(m.timelineDir, "*.jsonl"))
	if err != nil {
		return nil
	}
	sort.Strings(shards)

	var entries []vigil.TimelineEntry
	for _, shard := range shards {
		entries = append(entries, readTimelineFile(shard)...)
	}
	return entries
}

// RecentTimeline returns up to n most recent entries, oldest first.
func (m *Manager) RecentTimeline(n int) []vigil.TimelineEntry {
	entries := m.AllTimeline()
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}

// LastRound returns the highest round number on record, 0 when none.
// Called at startup to resume the counter; performs zero writes.
func (m *Manager) LastRound() int {
	last := 0
	for _, e := range m.AllTimeline() {
		if e.Round > last {
			last = e.Round
		}
	}
	return last
}

// DeleteRound removes a round's timeline entries and its run-log
// section. Shards left empty are deleted. Returns what was found.
func (m *Manager) DeleteRound(round int) (timeline, logs bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteRoundFromTimeline(round), m.deleteRoundFromLogs(round)
}

func (m *Manager) deleteRoundFromTimeline(round int) bool {
	shards, _ := filepath.Glob(filepath.Join(m.timelineDir, "*.jsonl"))
	sort.Strings(shards)

	found := false
	for _, shard := range shards {
		data, err := os.ReadFile(shard)
		if err != nil {
			continue
		}
		var kept []string
		hit := false
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var probe struct {
				Round int `json:"round"`
			}
			if json.Unmarshal([]byte(line), &probe) == nil && probe.Round == round {
				hit = true
				continue
			}
			kept = append(kept, line)
		}
		if !hit {
			continue
		}
		found = true
		if len(kept) == 0 {
			os.Remove(shard)
			continue
		}
		os.WriteFile(shard, []byte(strings.Join(kept, "\n")+"\n"), 0o644)
	}
	return found
}

func readTimelineFile(path string) []vigil.TimelineEntry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var entries []vigil.TimelineEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 8*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e vigil.TimelineEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// --- Feed ---

// AppendFeed writes one public activity record.
func (m *Manager) AppendFeed(p vigil.FeedPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return appendJSONLine(m.feedPath, p)
}

// AllFeed returns every feed post in chronological order.
func (m *Manager) AllFeed() []vigil.FeedPost {
	f, err := os.Open(m.feedPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var posts []vigil.FeedPost
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 8*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var p vigil.FeedPost
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			continue
		}
		posts = append(posts, p)
	}
	return posts
}

// --- Inspiration ---

// TakeInspiration reads and deletes the pending operator message.
func (m *Manager) TakeInspiration() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.inspirationPath)
	if err != nil {
		return "", false
	}
	os.Remove(m.inspirationPath)

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", false
	}
	return text, true
}

// WriteInspiration stores the operator's message, replacing any pending
// one.
func (m *Manager) WriteInspiration(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return os.WriteFile(m.inspirationPath, []byte(text), 0o644)
}

// --- Run log ---

// RoundSeparator opens a round's section in today's run log.
func (m *Manager) RoundSeparator(round int) {
	sep := strings.Repeat("=", 50)
	m.appendLog(fmt.Sprintf("\n%s\nRound %d | %s\n%s",
		sep, round, time.Now().Format("2006-01-02 15:04:05"), sep))
}

// Printf appends a timestamped line to today's run log. Failures are
// swallowed: the run log is best-effort.
func (m *Manager) Printf(format string, args ...any) {
	m.appendLog(fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...)))
}

func (m *Manager) appendLog(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.logsDir, todayFilename()+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, line)
}

// deleteRoundFromLogs strips one round's section from the per-day logs.
// A section runs from its "Round N |" header block to the next header.
func (m *Manager) deleteRoundFromLogs(round int) bool {
	files, _ := filepath.Glob(filepath.Join(m.logsDir, "*.log"))
	sort.Strings(files)

	header := fmt.Sprintf("Round %d |", round)
	found := false
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")

		var kept []string
		skip := false
		hit := false
		for i := 0; i < len(lines); i++ {
			line := lines[i]
			// A separator followed by a "Round N |" header starts a new
			// section; only those boundaries toggle the skip state.
			if isLogSeparator(line) && i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if strings.HasPrefix(next, header) {
					hit = true
					skip = true
					continue
				}
				if strings.HasPrefix(next, "Round ") {
					skip = false
				}
			}
			if !skip {
				kept = append(kept, line)
			}
		}
		if !hit {
			continue
		}
		found = true
		if strings.TrimSpace(strings.Join(kept, "")) == "" {
			os.Remove(path)
			continue
		}
		os.WriteFile(path, []byte(strings.Join(kept, "\n")), 0o644)
	}
	return found
}

func isLogSeparator(line string) bool {
	t := strings.TrimSpace(line)
	return len(t) >= 10 && strings.Count(t, "=") == len(t)
}

// --- helpers ---

func appendJSONLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}
