package dispatch

import (
	"context"
	"testing"

	"github.com/postfern/smtpd/inet"
	"github.com/postfern/smtpd/smtp"
)

func TestForwardDispatch_Unconfigured(t *testing.T) {
	forward := NewForwardDispatch(&inet.MailClient{}, nil, nil)
	if _, err := forward.OpenMailBody(context.Background(), &smtp.Session{}, &smtp.Transaction{ID: "x"}); err == nil {
		t.Fatal("an unconfigured forwarder must refuse mail")
	}
}

func TestForwardDispatch_BuffersUntilClose(t *testing.T) {
	client := &inet.MailClient{MTAHost: "mta.example.com", MTAPort: 25, MailFrom: "mx@example.com"}
	forward := NewForwardDispatch(client, []string{"howard@elsewhere.example"}, nil)
	tx := &smtp.Transaction{ID: "x", ExtraHeaders: "Received: by test\r\n"}
	sink, err := forward.OpenMailBody(context.Background(), &smtp.Session{}, tx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Write([]byte("hello\r\n")); err != nil {
		t.Fatal(err)
	}
	// Abandoning the sink must not attempt any delivery
	sink.(interface{ Abort() }).Abort()
}
