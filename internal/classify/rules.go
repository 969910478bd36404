package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/harrison/opgate/internal/behavior"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/snapshot"
)

// Rule maps keywords to a classification.
type Rule struct {
	Domain   string
	Action   string
	Keywords []string // words or space-separated phrases, matched on word boundaries
	// NeedsPath limits the rule to requests that mention a filesystem path.
	NeedsPath   bool
	Destination models.Destination
	Consumer    models.Consumer
	Semantics   models.Semantics
	Confidence  float64
}

func (r Rule) classification() *models.Classification {
	return &models.Classification{
		Destination: r.Destination,
		Consumer:    r.Consumer,
		Semantics:   r.Semantics,
		Confidence:  r.Confidence,
		Domain:      r.Domain,
		ActionHint:  r.Action,
	}
}

func serviceRule(verb string) Rule {
	return Rule{
		Domain: "system", Action: verb, Keywords: []string{verb},
		Destination: models.DestinationProcess, Consumer: models.ConsumerMachine, Semantics: models.SemanticsExecute,
		Confidence: 0.8,
	}
}

// DefaultRules is the built-in table. The first matching rule wins; every
// other matching rule becomes an alternative, and confidence drops when an
// alternative disagrees on the axes.
func DefaultRules() []Rule {
	return []Rule{
		{
			Domain: "calendar", Action: "show",
			Keywords:    []string{"calendar", "schedule", "agenda", "meetings", "appointments"},
			Destination: models.DestinationStream, Consumer: models.ConsumerHuman, Semantics: models.SemanticsRead,
			Confidence: 0.9,
		},
		{
			Domain: "system", Action: "run",
			Keywords:    []string{"run", "execute", "exec"},
			Destination: models.DestinationProcess, Consumer: models.ConsumerMachine, Semantics: models.SemanticsExecute,
			Confidence: 0.85,
		},
		serviceRule("restart"),
		serviceRule("start"),
		serviceRule("stop"),
		serviceRule("reload"),
		serviceRule("enable"),
		serviceRule("disable"),
		{
			Domain: "files", Action: "delete", NeedsPath: true,
			Keywords:    []string{"delete", "remove", "rm", "erase"},
			Destination: models.DestinationFile, Consumer: models.ConsumerHuman, Semantics: models.SemanticsExecute,
			Confidence: 0.9,
		},
		{
			Domain: "files", Action: "mkdir", NeedsPath: true,
			Keywords:    []string{"mkdir", "create directory", "create folder", "make directory", "make folder"},
			Destination: models.DestinationFile, Consumer: models.ConsumerHuman, Semantics: models.SemanticsExecute,
			Confidence: 0.9,
		},
		{
			Domain: "files", Action: "create", NeedsPath: true,
			Keywords:    []string{"create", "touch", "new file"},
			Destination: models.DestinationFile, Consumer: models.ConsumerHuman, Semantics: models.SemanticsExecute,
			Confidence: 0.85,
		},
		{
			Domain: "files", Action: "read", NeedsPath: true,
			Keywords:    []string{"read", "cat", "open", "view", "show", "print"},
			Destination: models.DestinationStream, Consumer: models.ConsumerHuman, Semantics: models.SemanticsRead,
			Confidence: 0.85,
		},
		{
			Domain: "files", Action: "edit", NeedsPath: true,
			Keywords:    []string{"edit", "write", "append", "modify", "update"},
			Destination: models.DestinationFile, Consumer: models.ConsumerHuman, Semantics: models.SemanticsExecute,
			Confidence: 0.75,
		},
		{
			Domain: "notes", Action: "summarize",
			Keywords:    []string{"summarize", "summarise", "summary", "tldr"},
			Destination: models.DestinationStream, Consumer: models.ConsumerHuman, Semantics: models.SemanticsInterpret,
			Confidence: 0.85,
		},
		{
			Domain: "general", Action: "explain",
			Keywords:    []string{"explain", "why", "interpret", "analyze", "analyse"},
			Destination: models.DestinationStream, Consumer: models.ConsumerHuman, Semantics: models.SemanticsInterpret,
			Confidence: 0.7,
		},
		{
			Domain: "general", Action: "answer",
			Keywords:    []string{"what", "who", "when", "where", "how", "show", "list", "tell", "display"},
			Destination: models.DestinationStream, Consumer: models.ConsumerHuman, Semantics: models.SemanticsRead,
			Confidence: 0.7,
		},
	}
}

// ClarificationOptions are offered when no rule matches. Given back as the
// answer, each one selects a rule ("edit a file" only when the request
// names a path).
var ClarificationOptions = []string{
	"show information",
	"summarize it",
	"edit a file",
	"run a command",
}

var (
	compoundSep = regexp.MustCompile(`(?i)\s*;\s*|,?\s+and\s+then\s+|,?\s+then\s+`)
	quotedSpan  = regexp.MustCompile("`[^`]*`")
)

const (
	ambiguityPenalty     = 0.15
	poorHistoryPenalty   = 0.1
	poorHistoryMinOps    = 5
	poorHistorySuccesses = 0.5
)

// RuleClassifier is the built-in keyword classifier.
type RuleClassifier struct {
	rules []Rule
}

// NewRuleClassifier uses rules, or DefaultRules when none are given.
func NewRuleClassifier(rules ...Rule) *RuleClassifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &RuleClassifier{rules: rules}
}

// Classify implements Classifier. Requests joined by "then", "and then" or
// ";" are decomposed; a request no rule matches yields a clarification.
func (rc *RuleClassifier) Classify(ctx context.Context, req Request) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	text := strings.TrimSpace(norm.NFKC.String(req.Text))
	if text == "" {
		return Outcome{}, fmt.Errorf("classify: %w", ErrEmptyRequest)
	}

	parts := SplitCompound(text)
	if len(parts) > 1 {
		d := &Decomposition{}
		for _, part := range parts {
			c := rc.match(part, req.Context)
			if c == nil {
				return Outcome{Clarification: rc.clarify(part)}, nil
			}
			d.Children = append(d.Children, ChildRequest{Text: part, Classification: c})
		}
		return Outcome{Decomposition: d}, nil
	}

	if c := rc.match(text, req.Context); c != nil {
		return Outcome{Classification: c}, nil
	}
	if hint := strings.TrimSpace(norm.NFKC.String(req.Hint)); hint != "" {
		if c := rc.match(hint+" "+text, req.Context); c != nil {
			c.Reasoning += " (from clarification answer)"
			return Outcome{Classification: c}, nil
		}
	}
	if cmd := behavior.ExtractCommand(text); cmd != "" {
		c := Rule{
			Domain: "system", Action: "run",
			Destination: models.DestinationProcess, Consumer: models.ConsumerMachine, Semantics: models.SemanticsExecute,
			Confidence: 0.7,
		}.classification()
		c.Reasoning = "backquoted command without a recognized verb"
		return Outcome{Classification: c}, nil
	}
	return Outcome{Clarification: rc.clarify(text)}, nil
}

// SplitCompound splits text on compound separators outside backquotes,
// dropping empty parts.
func SplitCompound(text string) []string {
	quoted := quotedSpan.FindAllStringIndex(text, -1)
	inQuotes := func(loc []int) bool {
		for _, q := range quoted {
			if loc[0] < q[1] && loc[1] > q[0] {
				return true
			}
		}
		return false
	}

	var parts []string
	add := func(p string) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	start := 0
	for _, loc := range compoundSep.FindAllStringIndex(text, -1) {
		if inQuotes(loc) {
			continue
		}
		add(text[start:loc[0]])
		start = loc[1]
	}
	add(text[start:])
	return parts
}

func (rc *RuleClassifier) clarify(text string) *Clarification {
	return &Clarification{
		Prompt:  fmt.Sprintf("I am not sure what to do with %q. What kind of action is it?", text),
		Options: append([]string(nil), ClarificationOptions...),
	}
}

type ruleMatch struct {
	rule    Rule
	keyword string
}

// match returns the classification of the first matching rule, or nil.
func (rc *RuleClassifier) match(text string, hist Context) *models.Classification {
	words := tokenize(cases.Lower(language.Und).String(text))
	hasPath := snapshot.MentionsPath(text)

	var matches []ruleMatch
	for _, r := range rc.rules {
		if r.NeedsPath && !hasPath {
			continue
		}
		if kw, ok := findKeyword(words, r.Keywords); ok {
			matches = append(matches, ruleMatch{rule: r, keyword: kw})
		}
	}
	if len(matches) == 0 {
		return nil
	}

	best := matches[0]
	c := best.rule.classification()
	reasons := []string{fmt.Sprintf("matched %q for %s/%s", best.keyword, best.rule.Domain, best.rule.Action)}

	seen := map[string]bool{best.rule.Domain + "/" + best.rule.Action: true}
	conflicting := false
	for _, m := range matches[1:] {
		key := m.rule.Domain + "/" + m.rule.Action
		if seen[key] {
			continue
		}
		seen[key] = true
		c.Alternatives = append(c.Alternatives, models.Alternative{
			Destination: m.rule.Destination,
			Consumer:    m.rule.Consumer,
			Semantics:   m.rule.Semantics,
			Reason:      fmt.Sprintf("also matched %q for %s; lower priority rule", m.keyword, key),
		})
		if m.rule.Destination != c.Destination || m.rule.Consumer != c.Consumer || m.rule.Semantics != c.Semantics {
			conflicting = true
		}
	}
	if conflicting {
		c.Confidence -= ambiguityPenalty
		reasons = append(reasons, "competing rules disagree on the axes")
	}
	if hist.RecentOps >= poorHistoryMinOps && hist.SuccessRate < poorHistorySuccesses {
		c.Confidence -= poorHistoryPenalty
		reasons = append(reasons, fmt.Sprintf("recent success rate %.0f%%", hist.SuccessRate*100))
	}
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	c.Reasoning = strings.Join(reasons, "; ")
	return c
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// findKeyword returns the first keyword that occurs in words as a whole
// word or phrase.
func findKeyword(words, keywords []string) (string, bool) {
	for _, kw := range keywords {
		phrase := strings.Fields(kw)
		if len(phrase) == 0 {
			continue
		}
		for i := 0; i+len(phrase) <= len(words); i++ {
			if equalWords(words[i:i+len(phrase)], phrase) {
				return kw, true
			}
		}
	}
	return "", false
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
