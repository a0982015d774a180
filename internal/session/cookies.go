package session

import (
	"sort"
	"strings"

	"github.com/roldriel/reqivo/internal/proto"
)

// Jar is an origin-scoped cookie store. Cookies set by a response are
// visible only to later requests against the same origin. Attributes
// beyond the name=value pair are ignored.
type Jar struct {
	byOrigin map[proto.Origin]map[string]string
}

func NewJar() *Jar {
	return &Jar{byOrigin: map[proto.Origin]map[string]string{}}
}

// Set stores one cookie for origin.
func (j *Jar) Set(origin proto.Origin, name, value string) {
	m, ok := j.byOrigin[origin]
	if !ok {
		m = map[string]string{}
		j.byOrigin[origin] = m
	}
	m[name] = value
}

// Get returns the cookie value for origin, "" when absent.
func (j *Jar) Get(origin proto.Origin, name string) string {
	return j.byOrigin[origin][name]
}

// All returns a copy of the cookies scoped to origin.
func (j *Jar) All(origin proto.Origin) map[string]string {
	out := map[string]string{}
	for k, v := range j.byOrigin[origin] {
		out[k] = v
	}
	return out
}

// Clear drops every cookie for origin.
func (j *Jar) Clear(origin proto.Origin) {
	delete(j.byOrigin, origin)
}

// UpdateFromResponse ingests every Set-Cookie value, scoped to the
// responding origin. Malformed values are skipped.
func (j *Jar) UpdateFromResponse(origin proto.Origin, headers *proto.Headers) {
	for _, raw := range headers.GetAll("Set-Cookie") {
		name, value, ok := parseSetCookie(raw)
		if !ok {
			continue
		}
		j.Set(origin, name, value)
	}
}

// parseSetCookie extracts the leading name=value pair of a Set-Cookie
// header; attributes after the first ';' are dropped.
func parseSetCookie(raw string) (name, value string, ok bool) {
	pair := raw
	if i := strings.IndexByte(pair, ';'); i >= 0 {
		pair = pair[:i]
	}
	name, value, found := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(value), true
}

// Header renders the Cookie header value for origin, names sorted for a
// stable wire form. Empty when no cookies are scoped to origin.
func (j *Jar) Header(origin proto.Origin) string {
	m := j.byOrigin[origin]
	if len(m) == 0 {
		return ""
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(m[name])
	}
	return sb.String()
}
