package dispatch

import (
	"bytes"
	"context"

	"github.com/postfern/smtpd/inet"
	"github.com/postfern/smtpd/mlog"
	"github.com/postfern/smtpd/smtp"
)

/*
ForwardDispatch relays every accepted message to a fixed set of forward addresses via an
outbound MTA. The body is buffered in memory while DATA is in progress and handed to the mail
client on commit, so an abandoned sink sends nothing.
*/
type ForwardDispatch struct {
	Client    *inet.MailClient
	ForwardTo []string
	Logger    *mlog.Logger
}

// NewForwardDispatch returns a dispatcher that relays messages via the mail client.
func NewForwardDispatch(client *inet.MailClient, forwardTo []string, logger *mlog.Logger) *ForwardDispatch {
	if logger == nil {
		logger = mlog.DefaultLogger
	}
	return &ForwardDispatch{Client: client, ForwardTo: forwardTo, Logger: logger}
}

// OpenMailBody opens an in-memory sink for the transaction body.
func (dispatch *ForwardDispatch) OpenMailBody(ctx context.Context, sess *smtp.Session, tx *smtp.Transaction) (smtp.BodySink, error) {
	if !dispatch.Client.IsConfigured() || len(dispatch.ForwardTo) == 0 {
		return nil, &smtp.DispatchError{Reason: "mail forwarding is not configured"}
	}
	sink := &forwardSink{dispatch: dispatch, id: tx.ID}
	sink.buf.WriteString(tx.ExtraHeaders)
	return sink, nil
}

type forwardSink struct {
	dispatch *ForwardDispatch
	id       string
	buf      bytes.Buffer
}

func (sink *forwardSink) Write(p []byte) (int, error) {
	return sink.buf.Write(p)
}

// Close relays the buffered message to the forward addresses.
func (sink *forwardSink) Close(ctx context.Context) (string, error) {
	client := sink.dispatch.Client
	if err := client.SendRaw(client.MailFrom, sink.buf.Bytes(), sink.dispatch.ForwardTo...); err != nil {
		sink.dispatch.Logger.Warning(sink.id, err, "failed to forward the message")
		return "", &smtp.DispatchError{Temporary: true, Reason: "mail forwarding failed"}
	}
	sink.dispatch.Logger.Info(sink.id, nil, "forwarded %d bytes to %v", sink.buf.Len(), sink.dispatch.ForwardTo)
	return sink.id, nil
}

// Abort discards the buffered message.
func (sink *forwardSink) Abort() {
	sink.buf.Reset()
}
