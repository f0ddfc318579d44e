package cqldrv

import (
	"errors"
	"fmt"

	"github.com/cqldrv/cqldrv/pkg/cqlproto"
)

// Sentinel client-level errors.
var (
	ErrConnDead            = errors.New("cqldrv: connection is dead")
	ErrPoolClosed          = errors.New("cqldrv: connection pool is closed")
	ErrSessionClosed       = errors.New("cqldrv: session is closed")
	ErrTimeout             = errors.New("cqldrv: request timed out")
	ErrStreamsExhausted    = errors.New("cqldrv: no free stream ids")
	ErrNoAuthenticator     = errors.New("cqldrv: server requires authentication but none is configured")
	ErrUnexpectedResponse  = errors.New("cqldrv: unexpected response opcode")
	ErrIterNotPositioned   = errors.New("cqldrv: Scan called before a successful Next")
)

// ServerError wraps a decoded Cassandra ERROR frame, carrying the numeric
// code the retry policy consults.
type ServerError struct {
	Code    cqlproto.ErrorCode
	Message string
	Body    *cqlproto.ErrorBody
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("cqldrv: server error 0x%04x: %s", e.Code, e.Message)
}

func newServerError(b *cqlproto.ErrorBody) *ServerError {
	return &ServerError{Code: b.Code, Message: b.Message, Body: b}
}

// NodeAttempt records one plan node's outcome within a failed request, so
// NoHostAvailableError can report every cause rather than just the last.
type NodeAttempt struct {
	Node string
	Err  error
}

// NoHostAvailableError is returned when the query plan is exhausted
// without a successful attempt; it aggregates the per-node failure
// causes.
type NoHostAvailableError struct {
	Attempts []NodeAttempt
}

func (e *NoHostAvailableError) Error() string {
	if len(e.Attempts) == 0 {
		return "cqldrv: no host available (empty query plan)"
	}
	s := fmt.Sprintf("cqldrv: no host available, tried %d node(s):", len(e.Attempts))
	for _, a := range e.Attempts {
		s += fmt.Sprintf(" [%s: %v]", a.Node, a.Err)
	}
	return s
}

// IsIdempotencyGated reports whether err is one that a non-idempotent
// statement must never be retried on: WriteTimeout, and any error outside
// the known server-error taxonomy.
func IsIdempotencyGated(err error) bool {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code == cqlproto.ErrWriteTimeout
	}
	return true // an error outside the known taxonomy is treated as unknown
}
