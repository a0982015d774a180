package session

import (
	"github.com/roldriel/reqivo/internal/errs"
	"github.com/roldriel/reqivo/internal/ws"
)

// WebSocket builds a WebSocket client for url sharing the session's
// dialer, persistent headers and cookies. The caller drives Connect;
// the upgraded connection never touches the session pool.
func (s *Session) WebSocket(url string, opts ...ws.Option) (*ws.WebSocket, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	u, err := s.resolveURL(url)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errs.New(errs.KindWebSocket, "websocket", "URL scheme must be ws or wss, got %q", u.Scheme)
	}

	headers := s.headers.Clone()
	if cookie := s.cookies.Header(u.Origin()); cookie != "" && !headers.Has("Cookie") {
		headers.Set("Cookie", cookie)
	}

	base := []ws.Option{
		ws.WithHeaders(headers),
		ws.WithTimeout(s.timeout),
		ws.WithLimits(s.limits),
	}
	return ws.New(u, s.dialer, append(base, opts...)...)
}
