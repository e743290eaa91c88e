package executor

import (
	"strings"
	"testing"
)

func TestValidateCommand(t *testing.T) {
	whitelist := DefaultWhitelist()
	blocklist := DefaultBlocklist()

	tests := []struct {
		name       string
		command    string
		wantOK     bool
		wantReason string
	}{
		{
			name:    "simple whitelisted command",
			command: "echo hello",
			wantOK:  true,
		},
		{
			name:    "whitelisted with subcommand",
			command: "git status",
			wantOK:  true,
		},
		{
			name:    "bare base command with subcommand list",
			command: "git",
			wantOK:  true,
		},
		{
			name:    "unrestricted subcommands",
			command: "ls -la",
			wantOK:  true,
		},
		{
			name:       "empty command",
			command:    "",
			wantOK:     false,
			wantReason: "Empty command",
		},
		{
			name:       "whitespace only",
			command:    "   ",
			wantOK:     false,
			wantReason: "Empty command",
		},
		{
			name:       "not whitelisted",
			command:    "forbidden-tool --yes",
			wantOK:     false,
			wantReason: "Command 'forbidden-tool' not in whitelist",
		},
		{
			name:       "disallowed subcommand",
			command:    "git rebase main",
			wantOK:     false,
			wantReason: "Subcommand 'rebase' not allowed for 'git'",
		},
		{
			name:       "blocked pattern wins over whitelist",
			command:    "echo hi && rm -rf /",
			wantOK:     false,
			wantReason: "Blocked dangerous pattern: rm -rf /",
		},
		{
			name:       "blocked pattern case insensitive",
			command:    "SUDO RM something",
			wantOK:     false,
			wantReason: "Blocked dangerous pattern: sudo rm",
		},
		{
			name:       "blocked pattern checked before tokenization",
			command:    "shutdown \"unterminated",
			wantOK:     false,
			wantReason: "Blocked dangerous pattern: shutdown",
		},
		{
			name:       "unbalanced quote",
			command:    `echo "unterminated`,
			wantOK:     false,
			wantReason: "Invalid command syntax:",
		},
		{
			name:       "path traversal",
			command:    "cat ../../etc/passwd",
			wantOK:     false,
			wantReason: "Path traversal attempt detected",
		},
		{
			name:       "path traversal inside quotes still flagged",
			command:    `echo "version 1..2"`,
			wantOK:     false,
			wantReason: "Path traversal attempt detected",
		},
		{
			name:    "benign pipe",
			command: "cat notes.txt | grep TODO",
			wantOK:  true,
		},
		{
			name:       "pipe combined with danger word",
			command:    "find . -name tmp | xargs rm",
			wantOK:     false,
			wantReason: "Potentially dangerous pipe command",
		},
		{
			name:       "pipe with danger word mid-token",
			command:    "ls | format-report",
			wantOK:     false,
			wantReason: "Blocked dangerous pattern: format",
		},
		{
			name:       "redirect to dev null",
			command:    "curl https://example.com > /dev/null",
			wantOK:     false,
			wantReason: "Blocked dangerous pattern: > /dev/null",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := validateCommand(tc.command, whitelist, blocklist)
			if ok != tc.wantOK {
				t.Fatalf("validateCommand(%q) ok = %v, want %v (reason %q)", tc.command, ok, tc.wantOK, reason)
			}
			if !tc.wantOK && !strings.HasPrefix(reason, tc.wantReason) {
				t.Errorf("validateCommand(%q) reason = %q, want prefix %q", tc.command, reason, tc.wantReason)
			}
		})
	}
}

func TestValidateCommandCustomPolicy(t *testing.T) {
	whitelist := map[string][]string{"make": {"build", "test"}}
	blocklist := []string{"make clean"}

	if ok, _ := validateCommand("make build", whitelist, blocklist); !ok {
		t.Error("expected custom whitelist to allow make build")
	}
	if ok, reason := validateCommand("git status", whitelist, blocklist); ok {
		t.Error("expected custom whitelist to reject git")
	} else if reason != "Command 'git' not in whitelist" {
		t.Errorf("unexpected reason: %q", reason)
	}
	if ok, reason := validateCommand("make clean", whitelist, blocklist); ok {
		t.Error("expected custom blocklist to reject make clean")
	} else if reason != "Blocked dangerous pattern: make clean" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestDefaultWhitelistShape(t *testing.T) {
	wl := DefaultWhitelist()
	for _, base := range []string{"aws", "git", "ls", "cat", "npm", "docker", "kubectl", "terraform", "echo"} {
		if _, ok := wl[base]; !ok {
			t.Errorf("default whitelist missing %q", base)
		}
	}
	if len(wl["ls"]) != 0 {
		t.Error("ls should allow any subcommand")
	}
	if !contains(wl["aws"], "s3") {
		t.Error("aws whitelist should include s3")
	}
}
