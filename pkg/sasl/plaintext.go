package sasl

import "context"

// PlainTextMechanism implements the default username/password SASL
// authenticator requires: a single response of
// "\0username\0password", no further challenges expected.
type PlainTextMechanism struct {
	Username string
	Password string
}

func (PlainTextMechanism) Name() string { return "org.apache.cassandra.auth.PasswordAuthenticator" }

func (m PlainTextMechanism) Authenticate(_ context.Context, _ string) (Session, []byte, error) {
	resp := make([]byte, 0, len(m.Username)+len(m.Password)+2)
	resp = append(resp, 0)
	resp = append(resp, m.Username...)
	resp = append(resp, 0)
	resp = append(resp, m.Password...)
	return plainTextSession{}, resp, nil
}

type plainTextSession struct{}

func (plainTextSession) Challenge([]byte) (bool, []byte, error) {
	// The plaintext mechanism never receives a follow-up challenge; the
	// server replies with AUTH_SUCCESS directly after the initial response.
	return true, nil, nil
}
