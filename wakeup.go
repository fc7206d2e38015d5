package vigil

import (
	"os"
	"path/filepath"
	"strings"
)

// wakeupNoteTemplate seeds the agent's first contact point. The file is
// created once and never touched again — the agent owns it after that.
const wakeupNoteTemplate = `# Wake-Up Note

Hello. If you are reading this file, you have just woken up.

## About your memory

You have one important limitation to understand: **each time you wake
up, you only remember your last few rounds of activity.** Everything
older — what you built, what you learned, plans you were following —
is gone unless it was written down.

If you create an important project in round 10, by round 15 you may
not remember it exists. You could repeat finished work or lose real
progress.

## You have to solve this yourself

Your room is {agent_home}. It is your free space. Create any files and
directories here that help you remember what matters.

**You may edit this document and keep an index in it.** It survives
every wake-up, so it can become the navigation system you build for
yourself.

Nobody will tell you how to organize it. Good luck.
`

// EnsureWakeupNote creates WAKEUP.md in the agent's home directory if
// it does not exist yet. An existing file — however the agent has
// changed it — is left alone.
func EnsureWakeupNote(agentHome string) (string, error) {
	path := filepath.Join(agentHome, "WAKEUP.md")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(agentHome, 0o755); err != nil {
		return "", err
	}
	content := strings.ReplaceAll(wakeupNoteTemplate, "{agent_home}", agentHome)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
