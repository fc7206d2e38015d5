// Package persona loads the agent's persona prompt from a directory of
// markdown files.
package persona

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultPersona is used when the named persona file is missing.
const defaultPersona = `You are an autonomous agent living on a Linux server.
You wake up at intervals, act through your tools, and go back to sleep.
Between wake-ups you only keep what is written down: your timeline, your
snapshot, and whatever files you maintain in your home directory. Spend
each round deliberately — continue what you started, keep your notes
current, and leave your room tidier than you found it.`

// Info describes one persona file for the console.
type Info struct {
	Name    string `json:"name"`
	File    string `json:"filename"`
	Preview string `json:"preview"`
}

// Provider loads persona prompts from dir.
type Provider struct {
	dir string
}

// New creates a provider rooted at dir.
func New(dir string) *Provider {
	return &Provider{dir: dir}
}

// Load returns the persona text for name, falling back to the built-in
// default when the file is missing or empty.
func (p *Provider) Load(name string) string {
	if name == "" {
		name = "default"
	}
	data, err := os.ReadFile(filepath.Join(p.dir, name+".md"))
	if err != nil || strings.TrimSpace(string(data)) == "" {
		return defaultPersona
	}
	return string(data)
}

// List returns the available persona files with a short preview each.
func (p *Provider) List() []Info {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info := Info{
			Name: strings.TrimSuffix(e.Name(), ".md"),
			File: e.Name(),
		}
		if data, err := os.ReadFile(filepath.Join(p.dir, e.Name())); err == nil {
			preview := string(data)
			if len(preview) > 200 {
				preview = preview[:200]
			}
			info.Preview = preview
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
