package route

import (
	"regexp"
	"strings"
)

var colonParam = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// ParamNames extracts path parameter names from ":id" or "{id}" segments.
func ParamNames(path string) []string {
	var names []string
	for _, seg := range strings.Split(path, "/") {
		switch {
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			names = append(names, seg[1:])
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2:
			names = append(names, seg[1:len(seg)-1])
		}
	}
	return names
}

// BracePath rewrites ":id" segments as "{id}", the form chi and OpenAPI use.
func BracePath(path string) string {
	return colonParam.ReplaceAllString(path, "{$1}")
}

// Normalize ensures a leading slash and strips a trailing one.
func Normalize(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// FirstSegment returns the first static path segment after prefix is
// stripped, used to group routes by resource.
func FirstSegment(path, prefix string) string {
	path = strings.TrimPrefix(path, prefix)
	for _, seg := range strings.Split(path, "/") {
		if seg != "" && !strings.HasPrefix(seg, ":") && !strings.HasPrefix(seg, "{") {
			return seg
		}
	}
	return ""
}

// OperationID derives a camel-case id such as "getUsersById" from a route.
func OperationID(action Action, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(action)))
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, ":") || strings.HasPrefix(seg, "{") {
			b.WriteString("By")
			b.WriteString(upperFirst(camel(strings.Trim(seg, ":{}"))))
			continue
		}
		b.WriteString(upperFirst(camel(seg)))
	}
	return b.String()
}

func camel(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' || r == '.' })
	for i := 1; i < len(parts); i++ {
		parts[i] = upperFirst(parts[i])
	}
	return strings.Join(parts, "")
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
