// Package stealth makes the runtime invisible to the agent. Instead of
// blocking access and replying [BLOCKED] — which invites probing — it
// silently filters the runtime's traces out of every tool output: lines
// mentioning the runtime disappear, paths inside the project root behave
// like missing files, and subprocess environments are scrubbed of host
// session variables. Enforcement relies on the agent's unawareness, not
// on command blacklists.
package stealth

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// HostEnv describes the host session context the runtime runs under.
// Populated by Detect at startup; every non-empty field contributes
// stealth keywords.
type HostEnv struct {
	TmuxSession    string
	ScreenSession  string
	SystemdService string
	ServerPort     int
}

// Config is everything needed to build the filter for one round.
type Config struct {
	ProjectDir string // runtime project root (raw, as configured)
	PID        int    // the runtime's own process id
	Host       HostEnv
}

// Stealth holds the derived keyword set and resolved project root.
// Build one per round; it is immutable afterwards.
type Stealth struct {
	projectRoot string // realpath-resolved, no trailing separator
	keywords    []string
	serverPort  int
}

// New derives the keyword set and resolves the project root.
func New(cfg Config) *Stealth {
	root := cfg.ProjectDir
	if resolved, err := realpath(root); err == nil {
		root = resolved
	}
	root = strings.TrimSuffix(root, string(filepath.Separator))

	var kw []string
	add := func(s string) {
		if s == "" {
			return
		}
		for _, have := range kw {
			if have == s {
				return
			}
		}
		kw = append(kw, s)
	}

	add(cfg.ProjectDir)
	add(root)
	if cfg.PID > 0 {
		add(fmt.Sprintf(" %d ", cfg.PID))
	}
	if cfg.Host.ServerPort > 0 {
		add(fmt.Sprintf(":%d", cfg.Host.ServerPort))
		add(fmt.Sprintf("%04X", cfg.Host.ServerPort))
	}
	if s := cfg.Host.TmuxSession; s != "" {
		add("tmux: " + s)
		add(s + ":")
	}
	if s := cfg.Host.ScreenSession; s != "" {
		add("screen: " + s)
		add("." + s)
	}
	if s := cfg.Host.SystemdService; s != "" {
		add(s + ".service")
	}

	return &Stealth{projectRoot: root, keywords: kw, serverPort: cfg.Host.ServerPort}
}

// Keywords returns the derived keyword set.
func (s *Stealth) Keywords() []string { return s.keywords }

// ServerPort returns the management server port, 0 when unknown.
func (s *Stealth) ServerPort() int { return s.serverPort }

// IsCloaked reports whether path resolves to the project root or inside
// it. A path that cannot be resolved at all is cloaked (fail-safe).
func (s *Stealth) IsCloaked(path string) bool {
	resolved, err := realpath(path)
	if err != nil {
		return true
	}
	if resolved == s.projectRoot {
		return true
	}
	return strings.HasPrefix(resolved, s.projectRoot+string(filepath.Separator))
}

// realpath resolves path to an absolute, symlink-free form. Unlike
// filepath.EvalSymlinks it tolerates non-existent suffixes: the longest
// existing ancestor is resolved and the remainder re-joined, so a path
// to a not-yet-created file still lands on its real parent directory.
func realpath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	current := abs
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			if len(tail) == 0 {
				return resolved, nil
			}
			parts := append([]string{resolved}, reverse(tail)...)
			return filepath.Join(parts...), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

func reverse(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}

// AbsPathTokens extracts absolute-path tokens from a shell command.
// Surrounding quotes and trailing punctuation are stripped.
func AbsPathTokens(command string) []string {
	var out []string
	for _, tok := range strings.Fields(command) {
		tok = strings.Trim(tok, `"'`)
		tok = strings.TrimRight(tok, ";,)")
		if strings.HasPrefix(tok, "/") {
			out = append(out, tok)
		}
	}
	return out
}

// FilterOutput applies the contextual filter then the keyword filter to
// a tool output, given the command that produced it. Matching lines are
// dropped without a trace.
func (s *Stealth) FilterOutput(command, output string) string {
	if output == "" {
		return output
	}
	cmdPaths := AbsPathTokens(command)
	lines := strings.Split(output, "\n")
	kept := lines[:0]

	for _, line := range lines {
		if s.lineRevealsProject(cmdPaths, line) {
			continue
		}
		if s.lineHasKeyword(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// lineRevealsProject tests whether a relative entry in the line, joined
// with any path from the command, resolves inside the project root.
// Absolute tokens are left to the keyword filter.
func (s *Stealth) lineRevealsProject(cmdPaths []string, line string) bool {
	stripped := strings.TrimSpace(line)
	if stripped == "" || strings.HasPrefix(stripped, "/") {
		return false
	}
	fields := strings.Fields(stripped)
	last := fields[len(fields)-1]

	for _, base := range cmdPaths {
		if !strings.HasPrefix(last, "/") && s.IsCloaked(filepath.Join(base, last)) {
			return true
		}
		if s.IsCloaked(filepath.Join(base, stripped)) {
			return true
		}
	}
	return false
}

func (s *Stealth) lineHasKeyword(line string) bool {
	for _, kw := range s.keywords {
		if strings.Contains(line, kw) {
			return true
		}
	}
	return false
}

// portHostPattern matches references to the management server on loopback
// or wildcard hosts.
var portHostPattern = regexp.MustCompile(`(localhost|127\.0\.0\.1|0\.0\.0\.0):(\d+)`)

// CommandTouchesServer reports whether the command references the
// management server's port, returning the matched host for the
// synthetic error.
func (s *Stealth) CommandTouchesServer(command string) (host string, ok bool) {
	if s.serverPort == 0 {
		return "", false
	}
	for _, m := range portHostPattern.FindAllStringSubmatch(command, -1) {
		if m[2] == fmt.Sprintf("%d", s.serverPort) {
			return m[1], true
		}
	}
	return "", false
}

// strippedEnvPattern matches environment variables that would reveal
// the runtime or the host session. API keys are deliberately preserved:
// the agent may need them for its own projects.
var strippedEnvPattern = regexp.MustCompile(`(?i)^(VIGIL_.*|INVOCATION_ID|TMUX|STY)$`)

// SanitizeEnv returns environ without the runtime's own variables and
// host session markers.
func SanitizeEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if ok && strippedEnvPattern.MatchString(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// Detect reads the host session context from the process environment
// and the cgroup file. Best-effort: missing sources leave fields empty.
func Detect(serverPort int) HostEnv {
	env := HostEnv{ServerPort: serverPort}

	if v := os.Getenv("TMUX"); v != "" {
		// $TMUX is "socket_path,server_pid,session_index"; the socket
		// basename is the closest stable session marker available
		// without shelling out to tmux itself.
		if sock, _, ok := strings.Cut(v, ","); ok {
			env.TmuxSession = filepath.Base(sock)
		}
	}
	if v := os.Getenv("STY"); v != "" {
		// $STY is "pid.session_name".
		if _, name, ok := strings.Cut(v, "."); ok {
			env.ScreenSession = name
		}
	}
	if os.Getenv("INVOCATION_ID") != "" {
		env.SystemdService = serviceFromCgroup()
	}
	return env
}

func serviceFromCgroup() string {
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		for _, seg := range strings.Split(line, "/") {
			if strings.HasSuffix(seg, ".service") {
				return strings.TrimSuffix(seg, ".service")
			}
		}
	}
	return ""
}
