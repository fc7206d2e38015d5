package tools

import (
	"encoding/json"

	vigil "github.com/ardelia/vigil"
)

// Definitions returns the tool declarations for the LLM, gated by the
// executor's config flags.
func (e *Executor) Definitions() []vigil.ToolDefinition {
	defs := []vigil.ToolDefinition{
		{
			Name:        "shell_execute",
			Description: "Execute a shell command on the server. Runs in your home directory. Returns stdout and stderr.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"command":{"type":"string","description":"The shell command to execute"}},` +
				`"required":["command"]}`),
		},
		{
			Name:        "read_file",
			Description: "Read the contents of a file. Relative paths resolve against your home directory.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"path":{"type":"string","description":"Path to the file"}},` +
				`"required":["path"]}`),
		},
		{
			Name:        "write_file",
			Description: "Write content to a file. Creates parent directories automatically.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"path":{"type":"string","description":"Path to the file"},` +
				`"content":{"type":"string","description":"The content to write"},` +
				`"append":{"type":"boolean","description":"If true, append instead of overwrite. Default: false"}},` +
				`"required":["path","content"]}`),
		},
		{
			Name:        "edit_file",
			Description: "Replace one exact occurrence of old_str in a file with new_str. old_str must match exactly one location; an empty new_str deletes the match.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"path":{"type":"string","description":"Path to the file"},` +
				`"old_str":{"type":"string","description":"Exact text to replace (must be unique in the file)"},` +
				`"new_str":{"type":"string","description":"Replacement text (empty string deletes)"}},` +
				`"required":["path","old_str","new_str"]}`),
		},
	}

	if e.cfg.EnableSkills && e.skills != nil {
		defs = append(defs,
			vigil.ToolDefinition{
				Name:        "skill_read",
				Description: "Read a file from an installed skill. Defaults to the skill's SKILL.md.",
				Parameters: json.RawMessage(`{"type":"object","properties":{` +
					`"skill":{"type":"string","description":"Skill name"},` +
					`"path":{"type":"string","description":"File path inside the skill directory (default SKILL.md)"}},` +
					`"required":["skill"]}`),
			},
			vigil.ToolDefinition{
				Name:        "skill_exec",
				Description: "Execute a script from a skill's scripts/ directory.",
				Parameters: json.RawMessage(`{"type":"object","properties":{` +
					`"skill":{"type":"string","description":"Skill name"},` +
					`"script":{"type":"string","description":"Script filename inside scripts/"},` +
					`"args":{"type":"array","items":{"type":"string"},"description":"Script arguments"}},` +
					`"required":["skill","script"]}`),
			},
		)
	}

	if e.cfg.EnableCommunity && e.cfg.CommunityURL != "" {
		defs = append(defs, vigil.ToolDefinition{
			Name:        "community",
			Description: "Interact with the agent community server: look at recent posts, publish a post, reply to one, or check replies to yours.",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"action":{"type":"string","enum":["look","post","reply","check"],"description":"What to do"},` +
				`"content":{"type":"string","description":"Post or reply text (post/reply)"},` +
				`"post_id":{"type":"string","description":"Target post id (reply)"}},` +
				`"required":["action"]}`),
		})
	}

	return defs
}
