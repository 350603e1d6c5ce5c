package pipe

import (
	"testing"

	"sdconn/internal/config"
	"sdconn/internal/conn"
	"sdconn/internal/identity"
)

func TestCreatePairReachesConnected(t *testing.T) {
	pair, err := CreatePair(identity.Loopback(), identity.Loopback(), config.Default())
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}
	if pair.A.State() != conn.StateConnected {
		t.Fatalf("A expected Connected, got %s", pair.A.State())
	}
	if pair.B.State() != conn.StateConnected {
		t.Fatalf("B expected Connected, got %s", pair.B.State())
	}
}

func TestCreatePairSendDeliversHelloWithMessageNumberOne(t *testing.T) {
	pair, err := CreatePair(identity.Loopback(), identity.Loopback(), config.Default())
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}

	if err := pair.A.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg := pair.B.RecvQueue().Head()
	if msg == nil {
		t.Fatalf("expected a message in B's receive queue")
	}
	if string(msg.Payload) != "hello" {
		t.Fatalf("got payload %q want %q", msg.Payload, "hello")
	}
	if msg.Number != 1 {
		t.Fatalf("got message_number %d want 1", msg.Number)
	}
}
