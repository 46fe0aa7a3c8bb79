package mcp

import (
	"strings"

	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

// DefaultPrefixes are stripped from paths before naming a tool.
var DefaultPrefixes = []string{"/admin"}

// ToolName derives a tool name from a route: the lowercase action followed
// by the path with prefixes removed. GET /admin/users becomes getusers and
// PATCH /admin/users/:id becomes patchusers_id.
func ToolName(action route.Action, path string, prefixes []string) string {
	p := path
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if p == prefix {
			p = ""
			break
		}
		if strings.HasPrefix(p, prefix+"/") {
			p = strings.TrimPrefix(p, prefix)
			break
		}
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(string(action)))
	for _, r := range strings.ToLower(p) {
		switch {
		case r == ':':
		case r == '/' || r == '-' || r == '.' || r == '_':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return collapse(b.String())
}

// collapse squeezes runs of underscores and trims them from both ends. The
// separator right after the action is dropped with them.
func collapse(s string) string {
	var b strings.Builder
	prev := false
	for _, r := range s {
		if r == '_' {
			if prev {
				continue
			}
			prev = true
		} else {
			prev = false
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "_")
	for _, a := range []string{"get_", "post_", "put_", "patch_", "delete_"} {
		if strings.HasPrefix(out, a) {
			return a[:len(a)-1] + out[len(a):]
		}
	}
	return out
}
