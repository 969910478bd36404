package executor

import (
	"strings"

	"github.com/harrison/opgate/internal/models"
)

// NoUndoReason is recorded when no undo method applies.
const NoUndoReason = "No undo method available"

// InverseVerbs maps a command verb to the verb that undoes it.
var InverseVerbs = map[string]string{
	"start":   "stop",
	"stop":    "start",
	"enable":  "disable",
	"disable": "enable",
	"mount":   "umount",
	"umount":  "mount",
	"mkdir":   "rmdir",
	"rmdir":   "mkdir",
}

// ReversibilityInput is everything reversibility is computed from. It is
// taken from the snapshots of one execution, never from later live state.
type ReversibilityInput struct {
	Destination models.Destination
	Request     string
	Command     string
	Backups     map[string]string // original -> backup, successes only
	Before      *models.StateSnapshot
	After       *models.StateSnapshot
}

// DetermineReversibility selects exactly one undo method, in priority order:
// restore from backup, delete created paths, inverse command, none.
func DetermineReversibility(in ReversibilityInput) models.Reversibility {
	if len(in.Backups) > 0 {
		files := make(map[string]string, len(in.Backups))
		for orig, bak := range in.Backups {
			files[orig] = bak
		}
		return models.RestoreBackup{Files: files}
	}

	if in.After != nil {
		if created := models.CreatedPaths(in.Before, in.After); len(created) > 0 {
			cmds := make([]string, len(created))
			for i, p := range created {
				cmds[i] = deleteCommand(p, in.After.Files[p].IsDir)
			}
			return models.DeleteCreated{Paths: created, Commands: cmds}
		}
	}

	if in.Destination == models.DestinationProcess {
		if inv, ok := InverseCommand(in.Request, in.Command); ok {
			return models.InverseCommand{Commands: []string{inv}}
		}
	}

	return models.NotReversible{Reason: NoUndoReason}
}

// InverseCommand finds the first verb of request that has a registered
// inverse and appears as a word in command, and swaps it in command. It
// fails when no such verb exists.
func InverseCommand(request, command string) (string, bool) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", false
	}
	for _, word := range strings.Fields(strings.ToLower(request)) {
		word = strings.Trim(word, ".,;:!?\"'`")
		inverse, ok := InverseVerbs[word]
		if !ok {
			continue
		}
		for i, f := range fields {
			if strings.ToLower(f) == word {
				out := append([]string(nil), fields...)
				out[i] = inverse
				return strings.Join(out, " "), true
			}
		}
	}
	return "", false
}

func deleteCommand(path string, dir bool) string {
	flags := "-f"
	if dir {
		flags = "-rf"
	}
	return "rm " + flags + " -- " + shellQuote(path)
}

// shellQuote single-quotes s when it contains anything beyond a safe path charset.
func shellQuote(s string) string {
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("/._-+@%=:,", r)) {
			safe = false
			break
		}
	}
	if safe && s != "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
