package httputil

import (
	"fmt"
	"net/http"
)

// RejectionKind enumerates the ways a request can fail boundary parsing.
type RejectionKind int

const (
	RejectMalformedQuery RejectionKind = iota + 1
	RejectMalformedPath
	RejectMalformedHeader
	RejectBodyTooLarge
)

func (k RejectionKind) String() string {
	switch k {
	case RejectMalformedQuery:
		return "malformed query"
	case RejectMalformedPath:
		return "malformed path"
	case RejectMalformedHeader:
		return "malformed header"
	case RejectBodyTooLarge:
		return "body too large"
	default:
		return "bad request"
	}
}

// Rejection is produced once by the boundary layer and rendered as a 400.
type Rejection struct {
	Kind   RejectionKind
	Detail string
}

// Reject builds a rejection with a formatted detail message.
func Reject(kind RejectionKind, format string, args ...interface{}) *Rejection {
	return &Rejection{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return r.Kind.String()
	}
	return r.Kind.String() + ": " + r.Detail
}

// Status returns the HTTP status for the rejection.
func (r *Rejection) Status() int {
	return http.StatusBadRequest
}

// WriteRejection renders the rejection as a JSON error body.
func WriteRejection(w http.ResponseWriter, rej *Rejection) {
	WriteError(w, rej.Status(), rej.Error())
}
