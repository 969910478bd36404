// Package safety decides whether a shell command may be spawned.
//
// Every process spawn and every inverse-command undo goes through a Checker;
// its verdict is authoritative.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Checker validates shell commands before they are run.
type Checker interface {
	// IsCommandSafe returns ok=false and a human-readable warning when cmd must not run.
	IsCommandSafe(cmd string) (ok bool, warning string)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(cmd string) (bool, string)

// IsCommandSafe implements Checker.
func (f CheckerFunc) IsCommandSafe(cmd string) (bool, string) {
	return f(cmd)
}

// Rule is one blocked command pattern.
type Rule struct {
	Name    string // Short identifier, used in warnings
	Pattern string // Regex matched against the normalized command
	Reason  string // Why the command is blocked
}

// DefaultRules blocks commands that destroy data, take the host down or
// pipe remote content straight into a shell.
var DefaultRules = []Rule{
	{
		Name:    "recursive-root-delete",
		// Any options (short, long or "--") and operands may precede the target.
		Pattern: `\brm\s+([^\s;&|]+\s+)*(/|/\*|~|~/|~/\*|\$home)(\s|$|[;&|])`,
		Reason:  "deletes the root or home directory",
	},
	{
		Name:    "no-preserve-root",
		Pattern: `--no-preserve-root`,
		Reason:  "disables root protection",
	},
	{
		Name:    "mkfs",
		Pattern: `\bmkfs(\.[a-z0-9]+)?\b`,
		Reason:  "formats a filesystem",
	},
	{
		Name:    "dd-device",
		Pattern: `\bdd\b.*\bof=/dev/`,
		Reason:  "writes raw data to a device",
	},
	{
		Name:    "device-redirect",
		Pattern: `>\s*/dev/(sd|hd|nvme|vd|xvd|mmcblk)`,
		Reason:  "overwrites a block device",
	},
	{
		Name:    "fork-bomb",
		Pattern: `:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
		Reason:  "fork bomb",
	},
	{
		Name:    "power",
		Pattern: `(^|[;&|]\s*|\bsudo\s+)(shutdown|reboot|halt|poweroff|init\s+[06])\b`,
		Reason:  "powers off or reboots the host",
	},
	{
		Name:    "chmod-root",
		Pattern: `\bchmod\s+(-[a-z]*\s+)*-[a-z]*r[a-z]*\s+[0-7]*7{2,}\s+/(\s|$)`,
		Reason:  "recursively opens permissions on the root directory",
	},
	{
		Name:    "chown-root",
		Pattern: `\bchown\s+(-[a-z]*\s+)*-[a-z]*r[a-z]*\s+\S+\s+/(\s|$)`,
		Reason:  "recursively changes ownership of the root directory",
	},
	{
		Name:    "pipe-to-shell",
		Pattern: `\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`,
		Reason:  "pipes downloaded content into a shell",
	},
	{
		Name:    "force-push",
		Pattern: `\bgit\s+push\b.*(--force\b|\s-f\b)`,
		Reason:  "rewrites remote history",
	},
	{
		Name:    "kill-all",
		Pattern: `\bkill\s+(-9\s+)?-1\b`,
		Reason:  "signals every process",
	},
	{
		Name:    "system-dirs",
		Pattern: `\b(rm|mv|truncate)\b.*\s/(etc|boot|bin|sbin|lib|usr)(/|\s|$)`,
		Reason:  "modifies system directories",
	},
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// BlocklistChecker rejects commands matching any of its rules.
type BlocklistChecker struct {
	rules []compiledRule
}

// NewBlocklistChecker compiles rules into a checker. Invalid patterns are reported as errors.
func NewBlocklistChecker(rules []Rule) (*BlocklistChecker, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("safety rule %s: %w", r.Name, err)
		}
		compiled = append(compiled, compiledRule{Rule: r, re: re})
	}
	return &BlocklistChecker{rules: compiled}, nil
}

// NewDefaultChecker returns a checker over DefaultRules.
func NewDefaultChecker() *BlocklistChecker {
	c, err := NewBlocklistChecker(DefaultRules)
	if err != nil {
		panic(err)
	}
	return c
}

// IsCommandSafe implements Checker.
func (c *BlocklistChecker) IsCommandSafe(cmd string) (bool, string) {
	normalized := normalize(cmd)
	if normalized == "" {
		return false, "command blocked: empty command"
	}
	for _, r := range c.rules {
		if r.re.MatchString(normalized) {
			return false, fmt.Sprintf("command blocked (%s): %s", r.Name, r.Reason)
		}
	}
	return true, ""
}

// normalize lowercases and collapses whitespace so patterns match regardless of spacing.
func normalize(cmd string) string {
	return strings.Join(strings.Fields(strings.ToLower(cmd)), " ")
}
