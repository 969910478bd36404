package behavior

import (
	"regexp"
	"strings"

	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/snapshot"
)

// serviceVerbs are action hints that map directly onto systemctl.
var serviceVerbs = map[string]bool{
	"start": true, "stop": true, "restart": true, "reload": true, "enable": true, "disable": true, "status": true,
}

var (
	backquoted = regexp.MustCompile("`([^`]+)`")
	runVerb    = regexp.MustCompile(`(?i)\b(?:run|execute|exec)\b\s+(?:the\s+)?(?:command\s+)?(.+)$`)
)

// ExtractCommand finds the shell command in a request: backquoted text
// first, then everything after a "run"/"execute" verb.
func ExtractCommand(text string) string {
	if m := backquoted.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := runVerb.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), `"'`))
	}
	return ""
}

// ExtractService returns the first meaningful word after verb in text,
// skipping articles and the words "service" and "daemon".
func ExtractService(text, verb string) string {
	words := strings.Fields(strings.ToLower(text))
	for i, w := range words {
		if w != verb {
			continue
		}
		for _, cand := range words[i+1:] {
			cand = strings.Trim(cand, `.,;:!?"'`)
			switch cand {
			case "", "the", "a", "my", "service", "daemon":
				continue
			}
			return cand
		}
	}
	return ""
}

func serviceCommand(ctx Context) map[string]string {
	verb := ""
	if ctx.Classification != nil {
		verb = strings.ToLower(ctx.Classification.ActionHint)
	}
	if !serviceVerbs[verb] {
		return map[string]string{"command": ExtractCommand(ctx.Request)}
	}
	svc := ExtractService(ctx.Request, verb)
	if svc == "" {
		return map[string]string{}
	}
	return map[string]string{
		"service": svc,
		"command": "systemctl " + verb + " " + svc,
	}
}

func shellCommand(ctx Context) map[string]string {
	if cmd := ExtractCommand(ctx.Request); cmd != "" {
		return map[string]string{"command": cmd}
	}
	return map[string]string{}
}

func firstPath(ctx Context) map[string]string {
	paths := snapshot.PathExtractor{}.ExtractPaths(ctx.Request)
	if len(paths) == 0 {
		return map[string]string{}
	}
	return map[string]string{"path": paths[0]}
}

func calendarRange(ctx Context) map[string]string {
	text := strings.ToLower(ctx.Request)
	for _, r := range []string{"today", "tomorrow", "this week", "next week", "this month"} {
		if strings.Contains(text, r) {
			return map[string]string{"range": r}
		}
	}
	return map[string]string{"range": "upcoming"}
}

func tool(name string) func(Context) string {
	return func(Context) string { return name }
}

// DefaultEntries is the built-in (domain, action) table.
func DefaultEntries() []Entry {
	return []Entry{
		{
			Key: Key{Domain: "calendar", Action: "show"},
			Mode: Mode{
				Name:                    "calendar_show",
				VerificationMode:        models.VerificationFast,
				NeedsTool:               true,
				ToolSelector:            tool("calendar.list_events"),
				ArgExtractor:            calendarRange,
				SystemPromptTemplate:    "List the user's calendar events for {{range}} in chronological order.",
				NeedsHallucinationCheck: true,
			},
		},
		{
			Key: Key{Domain: "files", Action: "delete"},
			Mode: Mode{
				Name:             "file_delete",
				VerificationMode: models.VerificationStandard,
				NeedsTool:        true,
				ToolSelector:     tool("filesystem.delete"),
				ArgExtractor:     firstPath,
			},
		},
		{
			Key: Key{Domain: "files", Action: "read"},
			Mode: Mode{
				Name:                    "file_read",
				VerificationMode:        models.VerificationFast,
				NeedsTool:               true,
				ToolSelector:            tool("filesystem.read"),
				ArgExtractor:            firstPath,
				SystemPromptTemplate:    "Show the contents of {{path}} to the user.",
				NeedsHallucinationCheck: true,
			},
		},
		{
			Key: Key{Domain: "files", Action: Wildcard},
			Mode: Mode{
				Name:             "file_operation",
				VerificationMode: models.VerificationStandard,
				NeedsTool:        true,
				ToolSelector:     tool("filesystem"),
				ArgExtractor:     firstPath,
			},
		},
		{
			Key: Key{Domain: "system", Action: "restart"},
			Mode: Mode{
				Name:             "service_restart",
				VerificationMode: models.VerificationStandard,
				NeedsTool:        true,
				ToolSelector:     tool("systemctl"),
				ArgExtractor:     serviceCommand,
			},
		},
		{
			Key: Key{Domain: "system", Action: "run"},
			Mode: Mode{
				Name:             "shell_run",
				VerificationMode: models.VerificationStandard,
				NeedsTool:        true,
				ToolSelector:     tool("shell"),
				ArgExtractor:     shellCommand,
			},
		},
		{
			Key: Key{Domain: "system", Action: Wildcard},
			Mode: Mode{
				Name:             "system_control",
				VerificationMode: models.VerificationStandard,
				NeedsTool:        true,
				ToolSelector: func(ctx Context) string {
					if ctx.Classification != nil && serviceVerbs[strings.ToLower(ctx.Classification.ActionHint)] {
						return "systemctl"
					}
					return "shell"
				},
				ArgExtractor: serviceCommand,
			},
		},
		{
			Key: Key{Domain: "notes", Action: "summarize"},
			Mode: Mode{
				Name:                    "notes_summarize",
				VerificationMode:        models.VerificationFast,
				SystemPromptTemplate:    "Summarize the user's notes faithfully. Do not add facts that are not in the notes.",
				NeedsHallucinationCheck: true,
			},
		},
	}
}

// DefaultAxisModes is the built-in semantics/destination fallback table.
func DefaultAxisModes() []Default {
	return []Default{
		{
			Key:  AxisKey{Semantics: models.SemanticsRead, Destination: models.DestinationStream},
			Mode: Mode{Name: "answer", VerificationMode: models.VerificationFast, NeedsHallucinationCheck: true},
		},
		{
			Key:  AxisKey{Semantics: models.SemanticsInterpret, Destination: models.DestinationStream},
			Mode: Mode{Name: "interpret", VerificationMode: models.VerificationFast, NeedsHallucinationCheck: true},
		},
		{
			Key: AxisKey{Semantics: models.SemanticsExecute, Destination: models.DestinationProcess},
			Mode: Mode{
				Name:             "process_execute",
				VerificationMode: models.VerificationStandard,
				NeedsTool:        true,
				ToolSelector:     tool("shell"),
				ArgExtractor:     shellCommand,
			},
		},
		{
			Key: AxisKey{Semantics: models.SemanticsExecute, Destination: models.DestinationFile},
			Mode: Mode{
				Name:             "file_mutation",
				VerificationMode: models.VerificationStandard,
				NeedsTool:        true,
				ToolSelector:     tool("filesystem"),
				ArgExtractor:     firstPath,
			},
		},
		{
			Key:  AxisKey{Semantics: models.SemanticsRead, Destination: models.DestinationFile},
			Mode: Mode{Name: "file_inspect", VerificationMode: models.VerificationStandard, NeedsTool: true, ToolSelector: tool("filesystem.read"), ArgExtractor: firstPath},
		},
	}
}

// GenericMode is the final fallback.
var GenericMode = Mode{Name: "generic", VerificationMode: models.VerificationStandard}

// NewDefaultRegistry builds the registry from the built-in tables.
func NewDefaultRegistry() *Registry {
	return NewRegistry(DefaultEntries(), DefaultAxisModes(), GenericMode)
}
