// Package skills provides the directory-backed skill store. A skill is
// a directory under the skills root carrying a skill.yaml manifest, a
// SKILL.md body, and optionally a scripts/ directory of executables.
// Only the manifest's one-line description is surfaced to the agent up
// front; the full body is read on demand (progressive disclosure).
package skills

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	vigil "github.com/ardelia/vigil"
	"gopkg.in/yaml.v3"
)

// manifest is the skill.yaml document.
type manifest struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Enabled     *bool  `yaml:"enabled"` // default true
}

// Store reads skills from a root directory.
type Store struct {
	root string
}

// New creates a store rooted at dir. The directory need not exist.
func New(dir string) *Store {
	return &Store{root: dir}
}

// List returns every skill directory with its manifest data, sorted by
// name. Directories without a manifest are listed with defaults.
func (s *Store) List() []vigil.SkillInfo {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}

	var out []vigil.SkillInfo
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info := vigil.SkillInfo{Name: e.Name(), Enabled: true}
		if data, err := os.ReadFile(filepath.Join(s.root, e.Name(), "skill.yaml")); err == nil {
			var m manifest
			if yaml.Unmarshal(data, &m) == nil {
				info.Title = m.Title
				info.Description = m.Description
				if m.Enabled != nil {
					info.Enabled = *m.Enabled
				}
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReadFile returns one file from within a skill directory. The resolved
// real path must stay inside the skill directory.
func (s *Store) ReadFile(name, relPath string) (string, error) {
	path, err := s.containedPath(name, relPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("skill %s has no file %s", name, relPath)
		}
		return "", err
	}
	return string(data), nil
}

// ExecScript runs scripts/<script> inside the skill directory with the
// given environment. Output is stdout + stderr.
func (s *Store) ExecScript(ctx context.Context, name, script string, args, env []string) (string, error) {
	path, err := s.containedPath(name, filepath.Join("scripts", script))
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", fmt.Errorf("skill %s has no script %s", name, script)
	}
	// Scripts must really live under scripts/, not merely inside the
	// skill directory via traversal.
	realScript, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("skill %s has no script %s", name, script)
	}
	realScripts, err := filepath.EvalSymlinks(filepath.Join(s.root, name, "scripts"))
	if err != nil || !strings.HasPrefix(realScript, realScripts+string(filepath.Separator)) {
		return "", fmt.Errorf("script %q is not inside %s/scripts", script, name)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = filepath.Join(s.root, name)
	cmd.Env = env

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err = cmd.Run()
	return buf.String(), err
}

// containedPath joins and verifies that the resolved real path stays
// inside the skill directory; traversal and symlink escapes fail.
func (s *Store) containedPath(name, relPath string) (string, error) {
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid skill name %q", name)
	}
	skillDir := filepath.Join(s.root, name)
	realSkillDir, err := filepath.EvalSymlinks(skillDir)
	if err != nil {
		return "", fmt.Errorf("unknown skill %q", name)
	}

	candidate := filepath.Join(skillDir, relPath)
	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// Nonexistent targets are reported by the caller; for them the
		// cleaned relative path is re-rooted at the real skill directory.
		real = filepath.Join(realSkillDir, filepath.Clean(string(filepath.Separator)+relPath))
	}
	if real != realSkillDir && !strings.HasPrefix(real, realSkillDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes skill %s", relPath, name)
	}
	return candidate, nil
}
