package reqivo

import "github.com/roldriel/reqivo/internal/errs"

// Error is the engine's error type; match on its Kind with IsKind.
type Error = errs.Error
type ErrorKind = errs.Kind

const (
	KindRequest          = errs.KindRequest
	KindNetwork          = errs.KindNetwork
	KindConnect          = errs.KindConnect
	KindConnectTimeout   = errs.KindConnectTimeout
	KindReadTimeout      = errs.KindReadTimeout
	KindTLS              = errs.KindTLS
	KindTimeout          = errs.KindTimeout
	KindRedirect         = errs.KindRedirect
	KindTooManyRedirects = errs.KindTooManyRedirects
	KindRedirectLoop     = errs.KindRedirectLoop
	KindInvalidResponse  = errs.KindInvalidResponse
	KindProtocol         = errs.KindProtocol
	KindWebSocket        = errs.KindWebSocket
	KindInvalidRequest   = errs.KindInvalidRequest
)

// IsKind reports whether err carries kind or any descendant of it.
func IsKind(err error, kind ErrorKind) bool { return errs.IsKind(err, kind) }

// KindOf extracts the kind of err, or the zero kind for foreign errors.
func KindOf(err error) ErrorKind { return errs.KindOf(err) }
