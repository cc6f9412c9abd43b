package smtp

import (
	"bytes"
	"testing"
	"time"
)

func newTestSession() *Session {
	return NewSession("mx.example.com", ConnInfo{PeerAddr: "192.0.2.9:1234", PeerIP: "192.0.2.9"}, time.Minute, nil)
}

// drainResponses concatenates the queued response payloads in order.
func drainResponses(sess *Session) ([]byte, []ControlKind) {
	var wire bytes.Buffer
	var kinds []ControlKind
	for {
		ctrl, ok := sess.PopControl()
		if !ok {
			break
		}
		kinds = append(kinds, ctrl.Kind)
		wire.Write(ctrl.Response)
	}
	return wire.Bytes(), kinds
}

func TestSession_OutputOrdering(t *testing.T) {
	sess := newTestSession()
	sess.SayGreeting()
	sess.SayOK()
	sess.SayOKInfo("second")
	wire, kinds := drainResponses(sess)
	want := ReplyServiceReady("mx.example.com").String() + ReplyOK().String() + ReplyOKInfo("second").String()
	if string(wire) != want {
		t.Fatalf("wire %q want %q", string(wire), want)
	}
	if len(kinds) != 3 {
		t.Fatal(kinds)
	}
}

func TestSession_NoOutputAfterShutdown(t *testing.T) {
	sess := newTestSession()
	sess.SayShutdownServiceErr()
	// Everything after the shutdown control is silently dropped
	sess.SayOK()
	sess.SayEhlo()
	sess.Shutdown()
	_, kinds := drainResponses(sess)
	if len(kinds) != 2 || kinds[0] != ControlResponse || kinds[1] != ControlShutdown {
		t.Fatal(kinds)
	}
	if !sess.ShutdownQueued() {
		t.Fatal("shutdown must be latched")
	}
}

func TestSession_ResetPreservesGreeting(t *testing.T) {
	sess := newTestSession()
	sess.ResetHelo(VerbEhlo, "client.example.org")
	sess.Extensions.Enable(Extension{Name: ExtPipelining})
	path := Path{LocalPart: "a", Domain: "b.example"}
	sess.Transaction.ID = NewTransactionID()
	sess.Transaction.ReversePath = &path
	sess.Transaction.Recipients = append(sess.Transaction.Recipients, Recipient{Path: path})
	sess.Mode = ModeData

	sess.Reset()
	if !sess.Transaction.IsEmpty() {
		t.Fatalf("%+v", sess.Transaction)
	}
	if sess.Mode != ModeCommand {
		t.Fatal("mode was not reset")
	}
	if sess.PeerName != "client.example.org" || sess.HeloVerb != VerbEhlo {
		t.Fatal("RSET must preserve the peer greeting")
	}
	if !sess.Extensions.Contains(ExtPipelining) {
		t.Fatal("RSET must preserve the extension set")
	}
}

func TestSession_ResetHelo(t *testing.T) {
	sess := newTestSession()
	path := Path{LocalPart: "a", Domain: "b.example"}
	sess.Transaction.ReversePath = &path
	sess.ResetHelo(VerbLhlo, "client")
	if !sess.Transaction.IsEmpty() {
		t.Fatal("greeting must clear the transaction")
	}
	if sess.PeerName != "client" || !sess.LMTP {
		t.Fatalf("%+v", sess)
	}
}

func TestSession_StartDataChallenge(t *testing.T) {
	sess := newTestSession()
	sess.Codec.atLineStart = false
	sess.SayStartDataChallenge()
	if sess.Mode != ModeData {
		t.Fatal("mode must be DATA")
	}
	if !sess.Codec.AtLineStart() {
		t.Fatal("codec must be reset to the line start")
	}
	wire, _ := drainResponses(sess)
	if string(wire) != ReplyStartMailInput().String() {
		t.Fatal(string(wire))
	}
}

func TestSession_SayStartTLSQueuesUpgrade(t *testing.T) {
	sess := newTestSession()
	sess.SayStartTLS()
	_, kinds := drainResponses(sess)
	if len(kinds) != 2 || kinds[0] != ControlResponse || kinds[1] != ControlStartTLS {
		t.Fatal(kinds)
	}
}

func TestNewTransactionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTransactionID()
		if id == "" || seen[id] {
			t.Fatal(id)
		}
		seen[id] = true
	}
}
