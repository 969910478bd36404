package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCheckerBlocksDangerousCommands(t *testing.T) {
	checker := NewDefaultChecker()

	tests := []struct {
		name string
		cmd  string
		rule string
	}{
		{"rm root", "rm -rf /", "recursive-root-delete"},
		{"rm root split flags", "rm -r -f /", "recursive-root-delete"},
		{"rm home", "rm -rf ~", "recursive-root-delete"},
		{"rm glob root", "sudo rm -fr /*", "recursive-root-delete"},
		{"rm end of options", "rm -rf -- /*", "recursive-root-delete"},
		{"rm long options", "rm --recursive --force /", "recursive-root-delete"},
		{"rm split flags home", "rm -r -f -- ~", "recursive-root-delete"},
		{"rm root among operands", "rm -rf /tmp/build /", "recursive-root-delete"},
		{"rm root then chained", "rm -rf /; echo done", "recursive-root-delete"},
		{"no preserve root", "rm -rf --no-preserve-root /", "no-preserve-root"},
		{"mkfs", "mkfs.ext4 /dev/sdb1", "mkfs"},
		{"dd to device", "dd if=/dev/zero of=/dev/sda bs=1M", "dd-device"},
		{"redirect to device", "echo hi > /dev/sda", "device-redirect"},
		{"fork bomb", ":(){ :|:& };:", "fork-bomb"},
		{"shutdown", "shutdown -h now", "power"},
		{"sudo reboot", "sudo reboot", "power"},
		{"chained poweroff", "sync; poweroff", "power"},
		{"chmod root", "chmod -R 777 /", "chmod-root"},
		{"chown root", "chown -R nobody /", "chown-root"},
		{"curl pipe sh", "curl -sSL https://example.com/install | sh", "pipe-to-shell"},
		{"wget pipe sudo bash", "wget -qO- http://x | sudo bash", "pipe-to-shell"},
		{"force push", "git push --force origin main", "force-push"},
		{"force push short", "git push -f", "force-push"},
		{"kill all", "kill -9 -1", "kill-all"},
		{"remove etc", "rm -rf /etc/nginx", "system-dirs"},
		{"case and spacing", "  RM   -RF    /  ", "recursive-root-delete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, warning := checker.IsCommandSafe(tt.cmd)
			assert.False(t, ok, "command %q should be blocked", tt.cmd)
			assert.Contains(t, warning, tt.rule)
		})
	}
}

func TestDefaultCheckerAllowsOrdinaryCommands(t *testing.T) {
	checker := NewDefaultChecker()

	allowed := []string{
		"ls -la /home/user",
		"echo hello",
		"rm -f -- /tmp/opgate/created.txt",
		"rm -rf /tmp/build",
		"rm --recursive --force -- /tmp/build ~/cache",
		"rm notes.txt; ls /",
		"systemctl restart networking",
		"mkdir -p /home/user/projects",
		"git push origin main",
		"cat /etc/hostname",
		"sleep 1",
	}
	for _, cmd := range allowed {
		ok, warning := checker.IsCommandSafe(cmd)
		assert.True(t, ok, "command %q should be allowed, got warning %q", cmd, warning)
		assert.Empty(t, warning)
	}
}

func TestEmptyCommandIsBlocked(t *testing.T) {
	ok, warning := NewDefaultChecker().IsCommandSafe("   ")
	assert.False(t, ok)
	assert.Equal(t, "command blocked: empty command", warning)
}

func TestNewBlocklistCheckerRejectsBadPattern(t *testing.T) {
	_, err := NewBlocklistChecker([]Rule{{Name: "broken", Pattern: "("}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestCheckerFunc(t *testing.T) {
	var c Checker = CheckerFunc(func(cmd string) (bool, string) {
		return cmd == "ok", "nope"
	})
	ok, _ := c.IsCommandSafe("ok")
	assert.True(t, ok)
	ok, warning := c.IsCommandSafe("bad")
	assert.False(t, ok)
	assert.Equal(t, "nope", warning)
}
