// Package sasl implements the SASL authentication exchange the Cassandra
// native protocol uses for the Authenticating state of the connection
// handshake: a Mechanism produces a per-connection Session that is fed
// server challenges until done.
package sasl

import "context"

// Session drives one SASL exchange on a single connection.
type Session interface {
	// Challenge consumes a server AUTH_CHALLENGE payload (the client's
	// first response comes from Mechanism.Authenticate, so every call
	// carries a challenge the server has sent) and returns
	// whether the exchange is complete, plus the client's next response
	// bytes (empty if done and there is nothing more to send).
	Challenge(challenge []byte) (done bool, response []byte, err error)
}

// Mechanism is a SASL authenticator factory. Name must match the
// authenticator class name (or a name the server's SASL handshake
// recognizes) reported in the Authenticate frame.
type Mechanism interface {
	Name() string
	Authenticate(ctx context.Context, addr string) (Session, initialResponse []byte, err error)
}
