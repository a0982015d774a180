package session

import (
	"github.com/roldriel/reqivo/internal/model"
	"github.com/roldriel/reqivo/internal/proto"
)

// RequestState is the mutable view a pre-request hook may rewrite:
// method, target URL and the fully composed header set. The result must
// still validate; a hook error aborts the request.
type RequestState struct {
	Method  string
	URL     *proto.URL
	Headers *proto.Headers
}

// PreRequestHook runs after session composition, before the wire write.
type PreRequestHook func(*RequestState) error

// PostResponseHook runs after full framing, before the response is
// returned; it may substitute the response.
type PostResponseHook func(*model.Response) (*model.Response, error)

// AddPreRequestHook appends a hook; hooks run in registration order.
func (s *Session) AddPreRequestHook(h PreRequestHook) {
	s.preHooks = append(s.preHooks, h)
}

// AddPostResponseHook appends a hook; hooks run in registration order.
func (s *Session) AddPostResponseHook(h PostResponseHook) {
	s.postHooks = append(s.postHooks, h)
}

func (s *Session) runPreHooks(state *RequestState) error {
	for _, h := range s.preHooks {
		if err := h(state); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) runPostHooks(resp *model.Response) (*model.Response, error) {
	var err error
	for _, h := range s.postHooks {
		resp, err = h(resp)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}
