package smtp

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/postfern/smtpd/mlog"
)

/*
Interpreter advances a session by exactly one step: while the session is in DATA mode it feeds
the buffered input through the dot codec into the open body sink, otherwise it parses one
command and applies it to the session. The returned count is the number of input bytes
consumed; zero together with a nil error means an action was taken without consuming input
(such as queueing the greeting banner).
*/
type Interpreter struct {
	Registry *Registry
	Logger   *mlog.Logger
}

// NewInterpreter returns an interpreter over the registry's collaborators.
func NewInterpreter(registry *Registry, logger *mlog.Logger) *Interpreter {
	if logger == nil {
		logger = mlog.DefaultLogger
	}
	return &Interpreter{Registry: registry, Logger: logger}
}

// Interpret performs one interpretation step, see the type description.
func (ip *Interpreter) Interpret(ctx context.Context, sess *Session) (int, error) {
	if !sess.Greeted {
		sess.SayGreeting()
		return 0, nil
	}
	if sess.Mode == ModeData {
		return ip.interpretData(ctx, sess)
	}
	if len(sess.Input) == 0 {
		return 0, ErrIncomplete
	}
	sawIncomplete := false
	for _, parser := range ip.Registry.Parsers {
		consumed, cmd, err := parser.Parse(sess.Input)
		if err == nil {
			sess.LastCommandAt = time.Now()
			ip.apply(ctx, sess, cmd)
			return consumed, nil
		}
		if errors.Is(err, ErrIncomplete) {
			sawIncomplete = true
			continue
		}
		if errors.Is(err, ErrMismatch) {
			continue
		}
		// A recognised but invalid command; first non-mismatch answer wins.
		return 0, err
	}
	if sawIncomplete {
		return 0, ErrIncomplete
	}
	return 0, ErrMismatch
}

// interpretData streams buffered input through the dot codec into the body sink.
func (ip *Interpreter) interpretData(ctx context.Context, sess *Session) (int, error) {
	consumed, body, done := sess.Codec.Decode(sess.Input)
	tx := &sess.Transaction
	if len(body) > 0 && tx.Sink != nil && !tx.sinkFailed {
		limit := ip.Registry.MaxMessageBytes
		if limit > 0 && tx.BodyBytes+int64(len(body)) > limit {
			// The message exceeded the announced maximum; swallow the remainder of the
			// body so that the terminator can still be found, then refuse the mail.
			tx.oversized = true
		} else if _, err := tx.Sink.Write(body); err != nil {
			ip.Logger.Warning(sess.Conn.PeerAddr, err, "failed to write %d body bytes to the mail sink", len(body))
			tx.sinkFailed = true
		}
	}
	tx.BodyBytes += int64(len(body))
	if done {
		ip.finishData(ctx, sess)
		return consumed, nil
	}
	if consumed == 0 {
		return 0, ErrIncomplete
	}
	return consumed, nil
}

// finishData closes the body sink and queues the end-of-data disposition replies.
func (ip *Interpreter) finishData(ctx context.Context, sess *Session) {
	tx := &sess.Transaction
	sink := tx.Sink
	tx.Sink = nil
	numRecipients := len(tx.Recipients)
	switch {
	case sink == nil:
		// The sink disappeared mid-body, only possible through a programming error upstream.
		sess.SayShutdownProcessingErr("the mail body sink is gone")
	case tx.oversized:
		abandonSink(sink)
		ip.sayDataOutcome(sess, numRecipients, func(sess *Session) {
			sess.SayReply(ReplyStorageFailure())
		})
	case tx.sinkFailed:
		abandonSink(sink)
		ip.sayDataOutcome(sess, numRecipients, func(sess *Session) {
			sess.SayMailQueueFailedTemporarily()
		})
	default:
		id, err := sink.Close(ctx)
		if err != nil {
			ip.Logger.Warning(sess.Conn.PeerAddr, err, "the mail dispatcher refused to commit the message")
			var dispatchErr *DispatchError
			temporary := errors.As(err, &dispatchErr) && dispatchErr.Temporary
			ip.sayDataOutcome(sess, numRecipients, func(sess *Session) {
				if temporary {
					sess.SayMailQueueFailedTemporarily()
				} else {
					sess.SayMailQueueRefused()
				}
			})
		} else {
			ip.Logger.Info(sess.Conn.PeerAddr, nil, "message of %d bytes queued as %s", tx.BodyBytes, id)
			ip.sayDataOutcome(sess, numRecipients, func(sess *Session) {
				sess.SayMailQueued(id)
			})
		}
	}
	sess.Reset()
}

/*
sayDataOutcome queues the end-of-data replies: a single reply for SMTP, or per the LMTP
convention one reply per accepted recipient in RCPT order. A dispatcher that reports a single
aggregate outcome thus has its answer repeated for every recipient.
*/
func (ip *Interpreter) sayDataOutcome(sess *Session, numRecipients int, say func(*Session)) {
	if sess.LMTP {
		for i := 0; i < numRecipients; i++ {
			say(sess)
		}
		return
	}
	say(sess)
}

// abandonSink releases a sink without committing the message, when the sink supports it.
func abandonSink(sink BodySink) {
	if aborter, ok := sink.(interface{ Abort() }); ok {
		aborter.Abort()
	}
}

// apply performs the state transition and collaborator calls of one parsed command.
func (ip *Interpreter) apply(ctx context.Context, sess *Session, cmd *Command) {
	greeted := sess.HeloVerb != VerbUnknown
	inTransaction := sess.Transaction.ReversePath != nil
	switch cmd.Verb {
	case VerbHelo, VerbEhlo, VerbLhlo:
		if inTransaction {
			sess.SayCommandSequenceFailure()
			return
		}
		sess.ResetHelo(cmd.Verb, cmd.HeloName)
		sess.Extensions = ip.Registry.ComputeExtensions(sess.TLSAvailable)
		if cmd.Verb == VerbHelo {
			sess.SayHelo()
		} else {
			sess.SayEhlo()
		}
	case VerbMail:
		if !greeted || inTransaction {
			sess.SayCommandSequenceFailure()
			return
		}
		ip.applyMail(ctx, sess, cmd)
	case VerbRcpt:
		if !inTransaction {
			sess.SayCommandSequenceFailure()
			return
		}
		ip.applyRcpt(ctx, sess, cmd)
	case VerbData:
		if len(sess.Transaction.Recipients) == 0 {
			sess.SayCommandSequenceFailure()
			return
		}
		ip.applyData(ctx, sess)
	case VerbRset:
		sess.Reset()
		sess.SayOK()
	case VerbNoop:
		sess.SayOK()
	case VerbQuit:
		sess.SayShutdownOK()
	case VerbStartTLS:
		if !sess.TLSAvailable || !sess.Extensions.Contains(ExtStartTLS) || inTransaction {
			sess.SayCommandSequenceFailure()
			return
		}
		// Advertised at most once: the extension goes away before the upgrade begins.
		sess.Extensions.Disable(ExtStartTLS)
		sess.SayStartTLS()
	case VerbVrfy:
		if !greeted {
			sess.SayCommandSequenceFailure()
			return
		}
		sess.SayReply(ReplyCannotVerify())
	case VerbExpn:
		if !greeted {
			sess.SayCommandSequenceFailure()
			return
		}
		sess.SayNotImplemented()
	case VerbHelp:
		sess.SayReply(ReplyHelp())
	case VerbTurn:
		sess.SayNotImplemented()
	default:
		ip.Logger.Info(sess.Conn.PeerAddr, nil, "unrecognised command %q", mlog.TruncateString(cmd.Arg, 100))
		sess.SayNotImplemented()
	}
}

// applyMail validates the MAIL FROM parameters, consults the guards, and commits the reverse path.
func (ip *Interpreter) applyMail(ctx context.Context, sess *Session, cmd *Command) {
	for _, param := range cmd.Params {
		switch strings.ToUpper(param.Key) {
		case ExtSize:
			declared, err := strconv.ParseInt(param.Value, 10, 64)
			if err != nil || declared < 0 {
				sess.SayReply(ReplyParameterSyntaxFailure())
				return
			}
			if ip.Registry.MaxMessageBytes > 0 && declared > ip.Registry.MaxMessageBytes {
				sess.SayReply(ReplyStorageFailure())
				return
			}
		case "BODY":
			value := strings.ToUpper(param.Value)
			if value != "7BIT" && value != "8BITMIME" {
				sess.SayReply(ReplyUnknownMailParameters())
				return
			}
		case ExtSMTPUTF8:
			if !sess.Extensions.Contains(ExtSMTPUTF8) {
				sess.SayReply(ReplyUnknownMailParameters())
				return
			}
		default:
			sess.SayReply(ReplyUnknownMailParameters())
			return
		}
	}
	tx := &sess.Transaction
	tx.ID = NewTransactionID()
	path := cmd.Path
	tx.ReversePath = &path
	if result := ip.Registry.StartMail(ctx, sess, tx); !result.Accepted {
		tx.Reset()
		sess.SayMailFailed(result.Failure, result.Description)
		return
	}
	sess.SayOK()
}

// applyRcpt consults the guards and appends the accepted recipient to the transaction.
func (ip *Interpreter) applyRcpt(ctx context.Context, sess *Session, cmd *Command) {
	rcpt := Recipient{Path: cmd.Path, AsReceived: cmd.Path}
	result := ip.Registry.AddRecipient(ctx, sess, rcpt)
	switch result.Decision {
	case RcptAccepted, RcptInconclusive:
		sess.Transaction.Recipients = append(sess.Transaction.Recipients, rcpt)
		sess.SayOK()
	case RcptAcceptedWithNewPath:
		rcpt.Path = result.NewPath
		sess.Transaction.Recipients = append(sess.Transaction.Recipients, rcpt)
		sess.SayOKRecipientNotLocal(rcpt.Path)
	case RcptTerminateSession:
		ip.Logger.Warning(sess.Conn.PeerAddr, nil, "terminating the session on RCPT TO - %s", result.Description)
		sess.SayShutdownServiceErr()
	default:
		sess.SayRcptFailed(result.Failure, result.NewPath, result.Description)
	}
}

// applyData opens the body sink and issues the 354 challenge.
func (ip *Interpreter) applyData(ctx context.Context, sess *Session) {
	sink, err := ip.Registry.OpenMailBody(ctx, sess, &sess.Transaction)
	if err != nil {
		ip.Logger.Warning(sess.Conn.PeerAddr, err, "the mail dispatcher refused to open a body sink")
		var dispatchErr *DispatchError
		if errors.As(err, &dispatchErr) && dispatchErr.Temporary {
			sess.SayMailQueueFailedTemporarily()
		} else {
			sess.SayMailQueueRefused()
		}
		return
	}
	sess.Transaction.Sink = sink
	sess.Transaction.BodyBytes = 0
	sess.SayStartDataChallenge()
}
