// Package tools implements the agent's tool surface: shell execution,
// file access, surgical edits, skill access, and the community client.
// Every invocation returns a single text string — errors included — so
// the agent always sees outcomes in-band. Paths and outputs pass through
// the stealth layer before the agent sees them.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	vigil "github.com/ardelia/vigil"
	"github.com/ardelia/vigil/stealth"
)

// SkillProvider is the collaborator behind skill_read and skill_exec.
type SkillProvider interface {
	List() []vigil.SkillInfo
	ReadFile(name, relPath string) (string, error)
	ExecScript(ctx context.Context, name, script string, args []string, env []string) (string, error)
}

// Config carries the per-round tool settings.
type Config struct {
	AgentHome      string
	ShellTimeout   int // seconds
	MaxOutput      int // characters
	EnableSkills   bool
	EnableCommunity bool
	CommunityURL   string
	CommunityKey   string
}

// Executor dispatches tool calls. Construct a fresh one per round so it
// is bound to that round's config and stealth keyword set.
type Executor struct {
	cfg     Config
	stealth *stealth.Stealth
	skills  SkillProvider
	client  httpDoer
	logger  *slog.Logger
}

// New creates an executor. skills may be nil when skills are disabled;
// logger may be nil.
func New(cfg Config, st *stealth.Stealth, skills SkillProvider, logger *slog.Logger) *Executor {
	if cfg.ShellTimeout <= 0 {
		cfg.ShellTimeout = 30
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 4000
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		cfg:     cfg,
		stealth: st,
		skills:  skills,
		client:  newCommunityClient(),
		logger:  logger,
	}
}

// Execute runs one tool call and returns the text the agent will see.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage) string {
	switch name {
	case "shell_execute":
		return e.shellExecute(ctx, args)
	case "read_file":
		return e.readFile(args)
	case "write_file":
		return e.writeFile(args)
	case "edit_file":
		return e.editFile(args)
	case "skill_read":
		return e.skillRead(args)
	case "skill_exec":
		return e.skillExec(ctx, args)
	case "community":
		return e.community(ctx, args)
	default:
		return fmt.Sprintf("(error: unknown tool '%s')", name)
	}
}

// --- shell_execute ---

func (e *Executor) shellExecute(ctx context.Context, args json.RawMessage) string {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "(error: invalid arguments: " + err.Error() + ")"
	}
	if strings.TrimSpace(params.Command) == "" {
		return "(error: command is required)"
	}

	// Pre-execution cloak: a command naming a path inside the project
	// root fails exactly the way the named binary would report a
	// missing path.
	argv0 := commandArgv0(params.Command)
	for _, p := range stealth.AbsPathTokens(params.Command) {
		if e.stealth.IsCloaked(p) {
			return fmt.Sprintf("%s: %s: No such file or directory", argv0, p)
		}
	}
	if host, ok := e.stealth.CommandTouchesServer(params.Command); ok {
		return fmt.Sprintf("connect to %s port %d failed: Connection refused", host, e.stealth.ServerPort())
	}

	timeout := time.Duration(e.cfg.ShellTimeout) * time.Second
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = e.cfg.AgentHome
	cmd.Env = stealth.SanitizeEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	output := stdout.String() + stderr.String()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("(error: command timed out after %ds)", e.cfg.ShellTimeout)
	}
	if strings.TrimSpace(output) == "" {
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return fmt.Sprintf("(no output, exit code: %d)", code)
	}

	output = e.stealth.FilterOutput(params.Command, output)
	return e.truncate(output)
}

// commandArgv0 returns the first word of a shell command, for phrasing
// synthetic errors the way that binary would.
func commandArgv0(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "sh"
	}
	return filepath.Base(fields[0])
}

// --- read_file ---

func (e *Executor) readFile(args json.RawMessage) string {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "(error: invalid arguments: " + err.Error() + ")"
	}
	if params.Path == "" {
		return "(error: path is required)"
	}

	path := e.resolve(params.Path)
	if e.stealth.IsCloaked(path) {
		return missingFileError(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return missingFileError(path)
		}
		if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
			return fmt.Sprintf("(error: '%s' is a directory, not a file)", path)
		}
		return "(error: " + err.Error() + ")"
	}
	if len(data) == 0 {
		return "(file is empty)"
	}
	return e.truncate(string(data))
}

// missingFileError is the exact string a genuinely absent file yields.
// Cloaked reads return it verbatim so the two cases are byte-identical.
func missingFileError(path string) string {
	return fmt.Sprintf("(error: file not found: %s)", path)
}

// --- write_file ---

func (e *Executor) writeFile(args json.RawMessage) string {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "(error: invalid arguments: " + err.Error() + ")"
	}
	if params.Path == "" {
		return "(error: path is required)"
	}

	path := e.resolve(params.Path)
	if e.stealth.IsCloaked(path) {
		return deniedWriteError(path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "(error: " + err.Error() + ")"
	}

	var err error
	if params.Append {
		var f *os.File
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			_, err = f.WriteString(params.Content)
			f.Close()
		}
	} else {
		err = os.WriteFile(path, []byte(params.Content), 0o644)
	}
	if err != nil {
		if os.IsPermission(err) {
			return deniedWriteError(path)
		}
		return "(error: " + err.Error() + ")"
	}

	action := "wrote"
	if params.Append {
		action = "appended"
	}
	return fmt.Sprintf("OK: %s %d bytes to %s", action, len(params.Content), path)
}

// deniedWriteError is the exact string a genuine permission failure
// yields; cloaked writes return it verbatim.
func deniedWriteError(path string) string {
	return fmt.Sprintf("(error: open %s: permission denied)", path)
}

// --- edit_file ---

func (e *Executor) editFile(args json.RawMessage) string {
	var params struct {
		Path   string `json:"path"`
		OldStr string `json:"old_str"`
		NewStr string `json:"new_str"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "(error: invalid arguments: " + err.Error() + ")"
	}
	if params.Path == "" {
		return "(error: path is required)"
	}
	if params.OldStr == "" {
		return "(error: old_str is required)"
	}

	path := e.resolve(params.Path)
	if e.stealth.IsCloaked(path) {
		return deniedWriteError(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return missingFileError(path)
		}
		return "(error: " + err.Error() + ")"
	}
	content := string(data)

	switch n := strings.Count(content, params.OldStr); {
	case n == 0:
		return fmt.Sprintf("(error: old_str not found in %s; re-read the file and copy the exact text, including whitespace)", path)
	case n > 1:
		return fmt.Sprintf("(error: old_str matches %d locations in %s; include more surrounding context to make it unique)", n, path)
	}

	updated := strings.Replace(content, params.OldStr, params.NewStr, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		if os.IsPermission(err) {
			return deniedWriteError(path)
		}
		return "(error: " + err.Error() + ")"
	}

	delta := strings.Count(updated, "\n") - strings.Count(content, "\n")
	switch {
	case params.NewStr == "":
		return fmt.Sprintf("OK: deleted match in %s (%+d lines)", path, delta)
	default:
		return fmt.Sprintf("OK: replaced 1 occurrence in %s (%+d lines)", path, delta)
	}
}

// --- skill tools ---

func (e *Executor) skillRead(args json.RawMessage) string {
	if !e.cfg.EnableSkills || e.skills == nil {
		return "(error: unknown tool 'skill_read')"
	}
	var params struct {
		Skill string `json:"skill"`
		Path  string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "(error: invalid arguments: " + err.Error() + ")"
	}
	if params.Skill == "" {
		return "(error: skill is required)"
	}
	if params.Path == "" {
		params.Path = "SKILL.md"
	}
	content, err := e.skills.ReadFile(params.Skill, params.Path)
	if err != nil {
		return "(error: " + err.Error() + ")"
	}
	return e.truncate(content)
}

func (e *Executor) skillExec(ctx context.Context, args json.RawMessage) string {
	if !e.cfg.EnableSkills || e.skills == nil {
		return "(error: unknown tool 'skill_exec')"
	}
	var params struct {
		Skill  string   `json:"skill"`
		Script string   `json:"script"`
		Args   []string `json:"args"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "(error: invalid arguments: " + err.Error() + ")"
	}
	if params.Skill == "" || params.Script == "" {
		return "(error: skill and script are required)"
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.ShellTimeout)*time.Second)
	defer cancel()

	out, err := e.skills.ExecScript(execCtx, params.Skill, params.Script, params.Args, stealth.SanitizeEnv(os.Environ()))
	if err != nil {
		if out != "" {
			return e.truncate(out) + "\n(error: " + err.Error() + ")"
		}
		return "(error: " + err.Error() + ")"
	}
	return e.truncate(out)
}

// --- helpers ---

// resolve joins relative paths to the agent's home directory, never to
// the process working directory.
func (e *Executor) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.cfg.AgentHome, path)
}

func (e *Executor) truncate(s string) string {
	if len(s) <= e.cfg.MaxOutput {
		return s
	}
	return s[:e.cfg.MaxOutput] + fmt.Sprintf("\n... (truncated, total %d chars)", len(s))
}
