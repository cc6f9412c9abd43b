package smtp

import (
	"testing"
)

func TestReply_SingleLine(t *testing.T) {
	if s := ReplyOK().String(); s != "250 Ok\r\n" {
		t.Fatal(s)
	}
	if s := ReplyCommandSequenceFailure().String(); s != "503 Bad sequence of commands\r\n" {
		t.Fatal(s)
	}
	if s := ReplyServiceReady("example.com").String(); s != "220 example.com service ready\r\n" {
		t.Fatal(s)
	}
}

func TestReply_MultiLine(t *testing.T) {
	reply := ReplyEhlo("mx.example.com", "client.example.org", []string{"PIPELINING", "8BITMIME", "STARTTLS"})
	want := "250-mx.example.com greets client.example.org\r\n" +
		"250-PIPELINING\r\n" +
		"250-8BITMIME\r\n" +
		"250 STARTTLS\r\n"
	if s := reply.String(); s != want {
		t.Fatalf("got %q want %q", s, want)
	}
}

func TestReply_EhloWithoutExtensions(t *testing.T) {
	reply := ReplyEhlo("mx", "peer", nil)
	if s := reply.String(); s != "250 mx greets peer\r\n" {
		t.Fatal(s)
	}
}
