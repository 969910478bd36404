package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// maxLinkHops bounds symlink resolution so link cycles terminate.
const maxLinkHops = 40

var errTooManyLinks = errors.New("too many levels of symbolic links")

// ResolveLinks returns the target of absolute path p with every symbolic
// link followed. Components from the first missing one on are kept as
// written. Filesystems without link support return p cleaned.
func ResolveLinks(fs afero.Fs, p string) (string, error) {
	lr, ok := fs.(afero.LinkReader)
	if !ok {
		return filepath.Clean(p), nil
	}
	ls, ok := fs.(afero.Lstater)
	if !ok {
		return filepath.Clean(p), nil
	}

	resolved := "/"
	rest := splitPath(p)
	hops := 0
	for len(rest) > 0 {
		seg := rest[0]
		rest = rest[1:]
		switch seg {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, seg)
		info, _, err := ls.LstatIfPossible(next)
		if err != nil {
			return filepath.Join(append([]string{next}, rest...)...), nil
		}
		if info.Mode()&os.ModeSymlink == 0 {
			resolved = next
			continue
		}

		hops++
		if hops > maxLinkHops {
			return "", errTooManyLinks
		}
		target, err := lr.ReadlinkIfPossible(next)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(resolved, target)
		}
		rest = append(splitPath(target), rest...)
		resolved = "/"
	}
	return resolved, nil
}

// ValidateTarget is ValidatePath applied to p and to the path its links
// resolve to on fs. A nil fs checks p alone.
func ValidateTarget(fs afero.Fs, p string) bool {
	if !ValidatePath(p) {
		return false
	}
	if fs == nil {
		return true
	}
	target, err := ResolveLinks(fs, p)
	if err != nil {
		return false
	}
	return ValidatePath(target)
}

func splitPath(p string) []string {
	return strings.Split(strings.TrimPrefix(filepath.ToSlash(filepath.Clean(p)), "/"), "/")
}
