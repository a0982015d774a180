package session

import "encoding/base64"

type authKind uint8

const (
	authNone authKind = iota
	authBasic
	authBearer
)

type authConfig struct {
	kind        authKind
	user, pass  string
	bearerToken string
}

// header renders the Authorization value, or "" when no auth is set.
func (a authConfig) header() string {
	switch a.kind {
	case authBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(a.user + ":" + a.pass))
		return "Basic " + creds
	case authBearer:
		return "Bearer " + a.bearerToken
	}
	return ""
}

// SetBasicAuth attaches Basic credentials to every request of the
// session; it displaces a previously set bearer token.
func (s *Session) SetBasicAuth(user, pass string) {
	s.auth = authConfig{kind: authBasic, user: user, pass: pass}
}

// SetBearerToken attaches a Bearer token to every request of the
// session; it displaces previously set Basic credentials.
func (s *Session) SetBearerToken(token string) {
	s.auth = authConfig{kind: authBearer, bearerToken: token}
}

// ClearAuth removes session authentication.
func (s *Session) ClearAuth() {
	s.auth = authConfig{}
}
