package httpproxy

import "fmt"

// Kind classifies the failures a request can end in.
type Kind int

const (
	KindParse Kind = iota
	KindAddressHelperRejected
	KindHostNotFound
	KindUpstreamUnavailable
	KindUpstreamConnect
	KindUpstreamProtocol
	KindStreamCreation
	KindNotImplemented
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindAddressHelperRejected:
		return "address helper rejected"
	case KindHostNotFound:
		return "host not found"
	case KindUpstreamUnavailable:
		return "upstream unavailable"
	case KindUpstreamConnect:
		return "upstream connect"
	case KindUpstreamProtocol:
		return "upstream protocol"
	case KindStreamCreation:
		return "stream creation"
	case KindNotImplemented:
		return "not implemented"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a request failure. Title and Description are shown to the
// user; Description may contain markup and must already be escaped.
type Error struct {
	Kind        Kind
	Title       string
	Description string
	Host        string // set for KindHostNotFound
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Title, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Title)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, title, description string, err error) *Error {
	return &Error{Kind: kind, Title: title, Description: description, Err: err}
}
