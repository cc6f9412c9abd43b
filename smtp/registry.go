package smtp

import (
	"context"
	"strconv"
)

/*
Registry resolves the external collaborators of the protocol core: the TLS upgrader, the chain
of mail guards, the mail dispatcher, and the command parsers. One registry is built per server
and shared read-only by all sessions.
*/
type Registry struct {
	// TLS performs the STARTTLS upgrade; nil disables the extension.
	TLS TLSUpgrader
	// Guards are consulted in order for MAIL FROM and RCPT TO.
	Guards []MailGuard
	// Dispatch accepts mail bodies for delivery.
	Dispatch MailDispatch
	// Parsers are tried in registration order; the first non-mismatch answer wins.
	Parsers []Parser
	// BaseExtensions are advertised on EHLO in addition to SIZE and STARTTLS.
	BaseExtensions []Extension
	// MaxMessageBytes limits the accepted message body size; 0 disables the limit and the
	// SIZE extension.
	MaxMessageBytes int64
}

// NewRegistry returns a registry with the default command parser and the customary extension set.
func NewRegistry(dispatch MailDispatch) *Registry {
	return &Registry{
		Dispatch: dispatch,
		Parsers:  []Parser{&CommandParser{}},
		BaseExtensions: []Extension{
			{Name: ExtPipelining},
			{Name: Ext8BitMIME},
			{Name: ExtSMTPUTF8},
		},
	}
}

// ComputeExtensions derives the extension set of a fresh greeting. STARTTLS is advertised only
// while the connection is still capable of an upgrade.
func (registry *Registry) ComputeExtensions(canEncrypt bool) ExtensionSet {
	var set ExtensionSet
	set.Reset(registry.BaseExtensions...)
	if registry.MaxMessageBytes > 0 {
		set.Enable(Extension{Name: ExtSize, Param: strconv.FormatInt(registry.MaxMessageBytes, 10)})
	}
	if canEncrypt {
		set.Enable(Extension{Name: ExtStartTLS})
	} else {
		set.Disable(ExtStartTLS)
	}
	return set
}

// StartMail consults every guard in order; the first refusal wins.
func (registry *Registry) StartMail(ctx context.Context, sess *Session, tx *Transaction) StartMailResult {
	for _, guard := range registry.Guards {
		if result := guard.StartMail(ctx, sess, tx); !result.Accepted {
			return result
		}
	}
	return StartMailAccepted()
}

// AddRecipient consults the guards in order. An inconclusive answer passes the decision to the
// next guard; if every guard is inconclusive, the recipient is accepted.
func (registry *Registry) AddRecipient(ctx context.Context, sess *Session, rcpt Recipient) AddRecipientResult {
	for _, guard := range registry.Guards {
		result := guard.AddRecipient(ctx, sess, rcpt)
		if result.Decision != RcptInconclusive {
			return result
		}
	}
	return RcptResultAccepted()
}

// OpenMailBody asks the dispatcher for the body sink of the transaction.
func (registry *Registry) OpenMailBody(ctx context.Context, sess *Session, tx *Transaction) (BodySink, error) {
	if registry.Dispatch == nil {
		return nil, &DispatchError{Reason: "no mail dispatcher is configured"}
	}
	return registry.Dispatch.OpenMailBody(ctx, sess, tx)
}
