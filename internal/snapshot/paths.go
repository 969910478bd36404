package snapshot

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"
)

// forbiddenRoots are pseudo-filesystems that are never snapshotted or backed up.
var forbiddenRoots = []string{"/proc", "/sys", "/dev"}

// tokenTrim is stripped from both ends of a token before it is considered a path.
const tokenTrim = "\"'`,;:()[]{}<>!?"

// PathExtractor finds candidate filesystem paths in free-form request text.
type PathExtractor struct {
	// Home replaces a leading "~". Tokens starting with "~" are dropped when empty.
	Home string
	// WorkDir anchors relative paths. Relative tokens are dropped when empty.
	WorkDir string
	// FS, when set, is used to follow symbolic links; a path whose target
	// is excluded is dropped as well.
	FS afero.Fs
}

// ExtractPaths returns the cleaned, absolute, de-duplicated candidate paths
// found in text, in order of first appearance. Tokens with a ".." segment
// and paths under /proc, /sys or /dev, before or after following links,
// are rejected.
func (e PathExtractor) ExtractPaths(text string) []string {
	text = norm.NFKC.String(text)

	seen := make(map[string]struct{})
	var out []string
	for _, field := range strings.Fields(text) {
		token := strings.Trim(field, tokenTrim)
		token = strings.TrimRight(token, ".")
		if !looksLikePath(token) {
			continue
		}
		resolved, ok := e.resolve(token)
		if !ok {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	}
	return out
}

// ValidatePath reports whether an already-resolved path may be captured.
func ValidatePath(p string) bool {
	if !filepath.IsAbs(p) || hasParentSegment(p) {
		return false
	}
	clean := filepath.Clean(p)
	for _, root := range forbiddenRoots {
		if clean == root || strings.HasPrefix(clean, root+"/") {
			return false
		}
	}
	return true
}

func (e PathExtractor) resolve(token string) (string, bool) {
	if hasParentSegment(token) {
		return "", false
	}

	var abs string
	switch {
	case token == "~" || strings.HasPrefix(token, "~/"):
		if e.Home == "" {
			return "", false
		}
		abs = filepath.Join(e.Home, strings.TrimPrefix(token, "~"))
	case filepath.IsAbs(token):
		abs = token
	default:
		if e.WorkDir == "" {
			return "", false
		}
		abs = filepath.Join(e.WorkDir, token)
	}

	abs = filepath.Clean(abs)
	if !ValidateTarget(e.FS, abs) {
		return "", false
	}
	return abs, true
}

// MentionsPath reports whether any token of text looks like a filesystem
// path, resolvable or not.
func MentionsPath(text string) bool {
	for _, field := range strings.Fields(norm.NFKC.String(text)) {
		if looksLikePath(strings.TrimRight(strings.Trim(field, tokenTrim), ".")) {
			return true
		}
	}
	return false
}

func looksLikePath(token string) bool {
	if token == "" || token == "/" {
		return false
	}
	if strings.Contains(token, "://") {
		return false
	}
	if strings.HasPrefix(token, "/") || strings.HasPrefix(token, "~") || strings.HasPrefix(token, "./") || strings.HasPrefix(token, "../") {
		return true
	}
	return strings.Contains(token, "/")
}

func hasParentSegment(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
