package smtp

import (
	"time"

	"github.com/postfern/smtpd/mlog"
)

// Mode selects the input discipline of the session.
type Mode int

const (
	// ModeCommand expects CRLF-terminated command lines.
	ModeCommand Mode = iota
	// ModeData expects message body bytes, decoded by the dot codec.
	ModeData
)

// ConnInfo describes the underlying connection of a session.
type ConnInfo struct {
	LocalAddr   string
	PeerAddr    string
	PeerIP      string
	Established time.Time
	Encrypted   bool
}

/*
Session is the per-connection state of one SMTP conversation: the peer greeting, the enabled
extensions, the current mail transaction, the pending output queue, and the buffered input that
the interpreter has not yet consumed. A session is owned by exactly one connection task and is
not safe for concurrent use.
*/
type Session struct {
	// ServiceName is the name this service introduces itself with in the greeting banner.
	ServiceName string
	// PeerName is the name the peer introduced itself with in HELO/EHLO/LHLO.
	PeerName string
	// HeloVerb is the greeting verb used by the peer, VerbUnknown before any greeting.
	HeloVerb Verb
	// LMTP is true when the peer greeted with LHLO, demanding per-recipient data replies.
	LMTP bool
	// Extensions enabled for the session; the membership dictates the EHLO reply verbatim.
	Extensions ExtensionSet
	// TLSAvailable is true while the connection is capable of an in-place STARTTLS upgrade.
	TLSAvailable bool
	// Mode selects between command parsing and DATA body decoding.
	Mode Mode
	// Codec carries the dot-decoding state across chunked reads while Mode is ModeData.
	Codec DotCodec
	// Output is the queue of pending driver controls, flushed strictly in order.
	Output []Control
	// Input holds bytes read from the peer that have not been interpreted yet.
	Input []byte
	// Transaction is the current mail transaction.
	Transaction Transaction
	// Conn describes the underlying connection.
	Conn ConnInfo
	// Greeted is true once the 220 banner has been queued.
	Greeted bool
	// LastCommandAt records the instant the latest complete command arrived.
	LastCommandAt time.Time
	// CommandTimeout limits how long the driver waits for the peer between commands.
	CommandTimeout time.Duration
	// Logger is used for session-scoped log messages.
	Logger *mlog.Logger

	// closed is latched once a Shutdown control has been queued; no further controls follow.
	closed bool
}

// NewSession returns a session ready for the driver to run.
func NewSession(serviceName string, conn ConnInfo, commandTimeout time.Duration, logger *mlog.Logger) *Session {
	if logger == nil {
		logger = mlog.DefaultLogger
	}
	return &Session{
		ServiceName:    serviceName,
		Conn:           conn,
		CommandTimeout: commandTimeout,
		Logger:         logger,
	}
}

// Say appends a control to the output queue. Once a Shutdown control has been queued, all
// further controls are silently discarded.
func (sess *Session) Say(ctrl Control) {
	if sess.closed {
		return
	}
	sess.Output = append(sess.Output, ctrl)
	if ctrl.Kind == ControlShutdown {
		sess.closed = true
	}
}

// SayReply appends the wire form of the reply to the output queue.
func (sess *Session) SayReply(reply Reply) {
	sess.Say(Control{Kind: ControlResponse, Response: reply.Bytes()})
}

// PopControl removes and returns the next control of the output queue.
func (sess *Session) PopControl() (Control, bool) {
	if len(sess.Output) == 0 {
		return Control{}, false
	}
	ctrl := sess.Output[0]
	sess.Output = sess.Output[1:]
	return ctrl, true
}

// OutputEmpty returns true when no controls are pending.
func (sess *Session) OutputEmpty() bool {
	return len(sess.Output) == 0
}

// ShutdownQueued returns true once a Shutdown control has been queued.
func (sess *Session) ShutdownQueued() bool {
	return sess.closed
}

// Reset abandons the current transaction and returns to command mode. The peer greeting, the
// extension set and the connection metadata are preserved.
func (sess *Session) Reset() {
	sess.Transaction.Reset()
	sess.Mode = ModeCommand
}

// ResetHelo abandons the current transaction and records the peer greeting.
func (sess *Session) ResetHelo(verb Verb, peerName string) {
	sess.Reset()
	sess.HeloVerb = verb
	sess.PeerName = peerName
	sess.LMTP = verb == VerbLhlo
}

// Shutdown queues a Shutdown control without a reply, abandoning the transaction.
func (sess *Session) Shutdown() {
	sess.Reset()
	sess.Say(Control{Kind: ControlShutdown})
}

// peerLabel returns the peer name for use in replies, falling back to the peer address.
func (sess *Session) peerLabel() string {
	if sess.PeerName != "" {
		return sess.PeerName
	}
	if sess.Conn.PeerAddr != "" {
		return sess.Conn.PeerAddr
	}
	return "the other side"
}

// SayGreeting queues the 220 service banner.
func (sess *Session) SayGreeting() {
	sess.Greeted = true
	sess.SayReply(ReplyServiceReady(sess.ServiceName))
}

// SayOK queues "250 Ok".
func (sess *Session) SayOK() {
	sess.SayReply(ReplyOK())
}

// SayOKInfo queues "250" with an informational message.
func (sess *Session) SayOKInfo(info string) {
	sess.SayReply(ReplyOKInfo(info))
}

// SayHelo queues the plain HELO reply without extensions.
func (sess *Session) SayHelo() {
	sess.SayReply(ReplyHelo(sess.ServiceName, sess.peerLabel()))
}

// SayEhlo queues the multi-line EHLO reply advertising the enabled extensions verbatim.
func (sess *Session) SayEhlo() {
	sess.SayReply(ReplyEhlo(sess.ServiceName, sess.peerLabel(), sess.Extensions.Lines()))
}

// SayNotImplemented queues "502 command not implemented".
func (sess *Session) SayNotImplemented() {
	sess.SayReply(ReplyCommandNotImplemented())
}

// SayInvalidSyntax queues "500 syntax error".
func (sess *Session) SayInvalidSyntax() {
	sess.SayReply(ReplyCommandSyntaxFailure())
}

// SayCommandSequenceFailure queues "503 bad sequence of commands".
func (sess *Session) SayCommandSequenceFailure() {
	sess.SayReply(ReplyCommandSequenceFailure())
}

// SayStartDataChallenge queues "354 start mail input" and switches the session to DATA mode.
func (sess *Session) SayStartDataChallenge() {
	sess.SayReply(ReplyStartMailInput())
	sess.Mode = ModeData
	sess.Codec.Reset()
}

// SayStartTLS queues "220 service ready" followed by the TLS upgrade control.
func (sess *Session) SayStartTLS() {
	sess.SayReply(ReplyServiceReady(sess.ServiceName))
	sess.Say(Control{Kind: ControlStartTLS})
}

// SayShutdownOK queues the friendly "221 closing connection" followed by Shutdown.
func (sess *Session) SayShutdownOK() {
	sess.SayReply(ReplyClosingConnection(sess.ServiceName))
	sess.Shutdown()
}

// SayShutdownServiceErr queues "421 service not available" followed by Shutdown.
func (sess *Session) SayShutdownServiceErr() {
	sess.SayReply(ReplyServiceNotAvailable(sess.ServiceName))
	sess.Shutdown()
}

// SayShutdownProcessingErr logs the description, queues "451 local error in processing" and
// shuts the session down.
func (sess *Session) SayShutdownProcessingErr(description string) {
	sess.Logger.Warning(sess.Conn.PeerAddr, nil, "processing error - %s", description)
	sess.SayReply(ReplyProcessingError())
	sess.Shutdown()
}

// SayMailFailed maps a MAIL FROM guard failure to its reply.
func (sess *Session) SayMailFailed(kind StartMailFailureKind, description string) {
	sess.Logger.Info(sess.Conn.PeerAddr, nil, "MAIL FROM refused (%d) - %s", kind, description)
	switch kind {
	case StartMailTerminateSession:
		sess.SayShutdownServiceErr()
	case StartMailRejected:
		sess.SayReply(ReplyMailboxNotAvailableFailure())
	case StartMailInvalidSender:
		sess.SayReply(ReplyMailboxNameInvalid())
	case StartMailStorageExhaustedPermanently:
		sess.SayReply(ReplyStorageFailure())
	case StartMailStorageExhaustedTemporarily:
		sess.SayReply(ReplyStorageError())
	case StartMailFailedTemporarily:
		sess.SayReply(ReplyProcessingError())
	case StartMailInvalidParameter:
		sess.SayReply(ReplyUnknownMailParameters())
	case StartMailInvalidParameterValue:
		sess.SayReply(ReplyParametersNotAccommodated())
	default:
		sess.SayReply(ReplyProcessingError())
	}
}

// SayRcptFailed maps a RCPT TO guard failure to its reply.
func (sess *Session) SayRcptFailed(kind AddRecipientFailureKind, newPath Path, description string) {
	sess.Logger.Info(sess.Conn.PeerAddr, nil, "RCPT TO refused (%d) - %s", kind, description)
	switch kind {
	case RcptRejectedPermanently:
		sess.SayReply(ReplyMailboxNotAvailableFailure())
	case RcptRejectedTemporarily:
		sess.SayReply(ReplyMailboxNotAvailableError())
	case RcptMoved:
		sess.SayReply(ReplyUserNotLocalFailure(newPath.String()))
	case RcptInvalidRecipient:
		sess.SayReply(ReplyMailboxNameInvalid())
	case RcptStorageExhaustedPermanently:
		sess.SayReply(ReplyStorageFailure())
	case RcptStorageExhaustedTemporarily:
		sess.SayReply(ReplyStorageError())
	case RcptFailedTemporarily:
		sess.SayReply(ReplyProcessingError())
	case RcptInvalidParameter:
		sess.SayReply(ReplyUnknownMailParameters())
	case RcptInvalidParameterValue:
		sess.SayReply(ReplyParametersNotAccommodated())
	default:
		sess.SayReply(ReplyProcessingError())
	}
}

// SayOKRecipientNotLocal queues "251 user not local, will forward".
func (sess *Session) SayOKRecipientNotLocal(path Path) {
	sess.SayReply(ReplyUserNotLocalInfo(path.String()))
}

// SayMailQueued queues "250 Ok: queued as <id>".
func (sess *Session) SayMailQueued(id string) {
	sess.SayOKInfo("Ok: queued as " + id)
}

// SayMailQueueRefused queues the permanent "550 mailbox unavailable".
func (sess *Session) SayMailQueueRefused() {
	sess.SayReply(ReplyMailboxNotAvailableFailure())
}

// SayMailQueueFailedTemporarily queues the transient "450 mailbox unavailable".
func (sess *Session) SayMailQueueFailedTemporarily() {
	sess.SayReply(ReplyMailboxNotAvailableError())
}
