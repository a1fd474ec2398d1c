package storage

import (
	"path"
	"strings"
)

const maxNameLen = 100

// Sanitize reduces an uploaded file name to [A-Za-z0-9._-] so it is safe in
// paths, object keys and Content-Disposition headers.
func Sanitize(name string) string {
	// Clients on Windows send backslash paths.
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		allowed := r == '.' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !allowed {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	out := strings.TrimLeft(b.String(), "._")
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}

	if len(out) > maxNameLen {
		ext := path.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		out = out[:maxNameLen-len(ext)] + ext
	}
	if out == "" || out == "." {
		return "file"
	}
	return out
}
