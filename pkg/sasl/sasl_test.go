package sasl

import (
	"context"
	"testing"
)

func TestPlainTextMechanism(t *testing.T) {
	m := PlainTextMechanism{Username: "alice", Password: "hunter2"}
	sess, initial, err := m.Authenticate(context.Background(), "127.0.0.1:9042")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	want := "\x00alice\x00hunter2"
	if string(initial) != want {
		t.Fatalf("initial response = %q, want %q", initial, want)
	}
	done, resp, err := sess.Challenge(nil)
	if err != nil || !done || resp != nil {
		t.Fatalf("Challenge = (%v, %v, %v), want (true, nil, nil)", done, resp, err)
	}
}

func TestScramClientFirstMessage(t *testing.T) {
	m := ScramSHA256Mechanism{Username: "alice", Password: "hunter2"}
	_, initial, err := m.Authenticate(context.Background(), "127.0.0.1:9042")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if len(initial) == 0 || initial[0] != 'n' {
		t.Fatalf("initial response = %q, want gs2-header prefixed message", initial)
	}
}
