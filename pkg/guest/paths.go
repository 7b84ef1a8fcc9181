package guest

import (
	"path"
	"strings"
	"sync"
	"time"
)

// Family is the guest operating system family, which decides path syntax
// and the program used to run scripts.
type Family int

const (
	FamilyPOSIX Family = iota
	FamilyWindows
)

// String returns "posix" or "windows".
func (f Family) String() string {
	if f == FamilyWindows {
		return "windows"
	}
	return "posix"
}

// Scratch roots for temporary guest paths.
const (
	posixTempRoot   = "/tmp/vmorch"
	windowsTempRoot = `c:\vmorchtmp`
)

// Separator returns the path separator of the family.
func (f Family) Separator() string {
	if f == FamilyWindows {
		return `\`
	}
	return "/"
}

// Normalize cleans a guest path for the family. Both separators are accepted
// on input.
func (f Family) Normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if p == "" {
		return ""
	}
	if f != FamilyWindows {
		return path.Clean(p)
	}

	// keep a drive or UNC prefix out of path.Clean
	prefix := ""
	switch {
	case strings.HasPrefix(p, "//"):
		prefix, p = "//", p[2:]
	case len(p) >= 2 && p[1] == ':':
		prefix, p = p[:2], p[2:]
	}
	cleaned := path.Clean(p)
	if cleaned == "." && prefix != "" {
		cleaned = "/"
	}
	return strings.ReplaceAll(prefix+cleaned, "/", `\`)
}

// Dir returns the parent directory of a normalized guest path.
func (f Family) Dir(p string) string {
	sep := f.Separator()
	i := strings.LastIndex(p, sep)
	switch {
	case i < 0:
		return ""
	case i == 0:
		return sep
	case f == FamilyWindows && i == 2 && p[1] == ':':
		return p[:3]
	default:
		return p[:i]
	}
}

// Join joins guest path elements with the family separator.
func (f Family) Join(elem ...string) string {
	return strings.Join(elem, f.Separator())
}

// TempRoot returns the root of the family's scratch directories.
func (f Family) TempRoot() string {
	if f == FamilyWindows {
		return windowsTempRoot
	}
	return posixTempRoot
}

var stamp struct {
	mu   sync.Mutex
	last int64
}

// nextStamp returns a process-wide strictly increasing millisecond timestamp.
// Two calls within the same millisecond get consecutive values.
func nextStamp(now time.Time) time.Time {
	ms := now.UnixMilli()

	stamp.mu.Lock()
	if ms <= stamp.last {
		ms = stamp.last + 1
	}
	stamp.last = ms
	stamp.mu.Unlock()

	return time.UnixMilli(ms)
}

// tempName formats a unique scratch directory name.
func tempName(now time.Time) string {
	return nextStamp(now).UTC().Format("2006-01-02T15-04-05.000")
}

// TempPath returns a unique scratch path for the family, optionally with a
// sub path appended.
func (f Family) TempPath(now time.Time, sub string) string {
	p := f.Join(f.TempRoot(), tempName(now))
	if sub != "" {
		p = f.Join(p, sub)
	}
	return p
}
