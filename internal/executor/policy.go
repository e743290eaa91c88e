package executor

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// DefaultWhitelist maps a base executable to its permitted first
// sub-arguments. An empty list permits any sub-argument, including none.
// The table is read-only configuration: loaded once at construction and
// never mutated at runtime.
func DefaultWhitelist() map[string][]string {
	return map[string][]string{
		// AWS CLI
		"aws": {"s3", "ec2", "lambda", "iam", "cloudformation", "logs", "sts"},

		// Git operations
		"git": {"status", "add", "commit", "push", "pull", "clone", "branch", "checkout", "log", "diff"},

		// File operations
		"ls":   {},
		"cat":  {},
		"head": {},
		"tail": {},
		"find": {},
		"grep": {},

		// Node.js/npm
		"npm":  {"install", "run", "test", "build", "start"},
		"node": {},
		"npx":  {},

		// Python
		"python":  {},
		"python3": {},
		"pip":     {"install", "list", "show"},
		"pip3":    {"install", "list", "show"},

		// Docker (limited)
		"docker": {"ps", "images", "logs", "exec", "build", "run"},

		// Kubectl (limited)
		"kubectl": {"get", "describe", "logs", "apply", "delete"},

		// Terraform
		"terraform": {"init", "plan", "apply", "destroy", "validate", "fmt"},

		// General utilities
		"curl":  {},
		"wget":  {},
		"jq":    {},
		"yq":    {},
		"which": {},
		"echo":  {},
		"pwd":   {},
		"cd":    {},
	}
}

// DefaultBlocklist is the ordered set of literal substrings that reject a
// command unconditionally, regardless of whitelist status. Matching is
// case-insensitive against the raw command string and is checked before
// any tokenization.
func DefaultBlocklist() []string {
	return []string{
		"rm -rf /",
		"rm -rf *",
		"format",
		"del /f /s /q",
		"rmdir /s",
		"sudo rm",
		"sudo dd",
		":/dev/",
		"shutdown",
		"reboot",
		"halt",
		"poweroff",
		"init 0",
		"init 6",
		"mkfs",
		"fdisk",
		"crontab -r",
		"chmod 777",
		"chown root",
		"su -",
		"sudo su",
		"> /dev/null",
		"2>/dev/null",
		"&& rm",
		"; rm",
		"| rm",
	}
}

// pipeDangerWords are the secondary danger set for the piped-command check:
// a pipe is only rejected when combined with one of these substrings.
var pipeDangerWords = []string{"rm", "del", "format"}

// validateCommand decides whether a command string is well-formed and
// policy-compliant. Pure function of (command, whitelist, blocklist);
// no process is ever spawned here. The first failing gate wins and its
// reason string is surfaced verbatim to the caller.
func validateCommand(command string, whitelist map[string][]string, blocklist []string) (bool, string) {
	// Gate 1: blocked patterns. Checked against the raw lowered string so
	// a blocklisted fragment anywhere in the command rejects it, even when
	// the base command is whitelisted.
	lowered := strings.ToLower(command)
	for _, pattern := range blocklist {
		if strings.Contains(lowered, pattern) {
			return false, fmt.Sprintf("Blocked dangerous pattern: %s", pattern)
		}
	}

	// Gate 2: shell-style tokenization honoring quoting.
	parts, err := shlex.Split(command)
	if err != nil {
		return false, fmt.Sprintf("Invalid command syntax: %v", err)
	}

	// Gate 3: empty command.
	if len(parts) == 0 {
		return false, "Empty command"
	}

	// Gate 4: base command must be whitelisted.
	base := parts[0]
	allowedSubs, ok := whitelist[base]
	if !ok {
		return false, fmt.Sprintf("Command '%s' not in whitelist", base)
	}

	// Gate 5: subcommand gate. A bare base command always passes; only an
	// explicit disallowed subcommand fails.
	if len(allowedSubs) > 0 && len(parts) > 1 {
		sub := parts[1]
		if !contains(allowedSubs, sub) {
			return false, fmt.Sprintf("Subcommand '%s' not allowed for '%s'", sub, base)
		}
	}

	// Gate 6: path traversal. Deliberately coarse — flags any double-dot,
	// including benign occurrences inside quoted text.
	if strings.Contains(command, "..") {
		return false, "Path traversal attempt detected"
	}

	// Gate 7: pipes are permitted unless combined with the danger set.
	if strings.Contains(command, "|") {
		for _, danger := range pipeDangerWords {
			if strings.Contains(command, danger) {
				return false, "Potentially dangerous pipe command"
			}
		}
	}

	return true, "Command validated"
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
