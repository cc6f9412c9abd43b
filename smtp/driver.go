package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/postfern/smtpd/mlog"
)

/*
Driver runs one SMTP conversation to completion over a TLS-capable connection. Each pass of its
loop first flushes the session output queue in strict order - responses, then possibly a TLS
upgrade or a shutdown - and then lets the interpreter advance the session by one step, reading
more input whenever the interpreter reports that the buffered bytes are incomplete.
*/
type Driver struct {
	Conn        *TLSCapableConn
	Session     *Session
	Interpreter *Interpreter
	Reader      *LineReader
	Logger      *mlog.Logger

	// WaitForBanner optionally delays the greeting banner; a peer that speaks during the
	// delay is refused. SMTP demands that the client waits for the banner, and spam senders
	// habitually do not.
	WaitForBanner time.Duration
}

// NewDriver assembles a driver for one connection.
func NewDriver(conn *TLSCapableConn, sess *Session, interpreter *Interpreter, logger *mlog.Logger) *Driver {
	if logger == nil {
		logger = mlog.DefaultLogger
	}
	return &Driver{
		Conn:        conn,
		Session:     sess,
		Interpreter: interpreter,
		Reader:      NewLineReader(conn, sess.CommandTimeout),
		Logger:      logger,
	}
}

// Run drives the conversation until the session shuts down, the peer disconnects, or the
// context is cancelled. The connection is closed in every case.
func (driver *Driver) Run(ctx context.Context) error {
	sess := driver.Session
	sess.TLSAvailable = driver.Conn.CanEncrypt()
	if driver.WaitForBanner > 0 {
		driver.holdBanner()
	}
	// Consecutive interpreter passes that neither consume input nor produce output indicate a
	// broken interpreter; the counter turns that programming error into a shutdown.
	zeroProgress := 0
	for {
		for {
			ctrl, ok := sess.PopControl()
			if !ok {
				break
			}
			switch ctrl.Kind {
			case ControlResponse:
				if err := driver.writeAll(ctrl.Response); err != nil {
					driver.Logger.MaybeMinorError(err)
					_ = driver.Conn.Close()
					return err
				}
			case ControlStartTLS:
				if err := driver.startTLS(); err != nil {
					_ = driver.Conn.Close()
					return err
				}
			case ControlShutdown:
				return driver.Conn.Close()
			}
		}
		if err := ctx.Err(); err != nil {
			// The task is being cancelled: abandon the connection. An open body sink is
			// dropped without Close, which by the sink contract must not commit.
			_ = driver.Conn.Close()
			return err
		}
		consumed, err := driver.Interpreter.Interpret(ctx, sess)
		switch {
		case err == nil:
			if consumed > 0 {
				if consumed > len(sess.Input) {
					_ = driver.Conn.Close()
					return fmt.Errorf("the interpreter consumed %d bytes of a %d byte buffer", consumed, len(sess.Input))
				}
				sess.Input = sess.Input[consumed:]
				zeroProgress = 0
			} else if sess.OutputEmpty() {
				zeroProgress++
				if zeroProgress > 1 {
					_ = driver.Conn.Close()
					return errors.New("the interpreter made no progress, stopping the session")
				}
			} else {
				zeroProgress = 0
			}
		case errors.Is(err, ErrIncomplete):
			zeroProgress = 0
			driver.readMore()
		default:
			// A recognised but invalid command, or nothing recognised it: drop one line.
			zeroProgress = 0
			dropped := dropLine(sess)
			if dropped == 0 {
				// Parsing failed on empty input; it would fail the same way forever.
				sess.SayShutdownServiceErr()
			} else {
				driver.Logger.Info(sess.Conn.PeerAddr, nil, "invalid command - %v", err)
				sess.SayInvalidSyntax()
			}
		}
	}
}

// holdBanner delays the greeting and refuses peers that talk before it.
func (driver *Driver) holdBanner() {
	sess := driver.Session
	if err := driver.Conn.SetReadDeadline(time.Now().Add(driver.WaitForBanner)); err != nil {
		return
	}
	var scratch [64]byte
	n, err := driver.Conn.Read(scratch[:])
	if n > 0 {
		driver.Logger.Warning(sess.Conn.PeerAddr, nil, "the peer sent %d bytes before the greeting banner", n)
		sess.Greeted = true // suppress the banner, the peer has disqualified itself
		sess.SayShutdownProcessingErr("the peer spoke before the banner")
		return
	}
	if err != nil && !IsTimeout(err) {
		driver.Logger.MaybeMinorError(err)
	}
}

// startTLS performs the in-place upgrade after the 220 reply has been flushed.
func (driver *Driver) startTLS() error {
	sess := driver.Session
	// Bytes the peer pipelined past STARTTLS before the handshake would otherwise be
	// interpreted as the beginning of the encrypted stream; they are discarded instead.
	if len(sess.Input) > 0 {
		driver.Logger.Warning(sess.Conn.PeerAddr, nil, "discarding %d bytes pipelined across the TLS boundary", len(sess.Input))
		sess.Input = nil
	}
	if err := driver.Conn.Encrypt(); err != nil {
		driver.Logger.Warning(sess.Conn.PeerAddr, err, "the TLS handshake failed")
		return err
	}
	// The conversation restarts as if freshly connected: the peer must greet again, and the
	// recomputed extension set no longer advertises STARTTLS.
	sess.Conn.Encrypted = true
	sess.TLSAvailable = false
	sess.ResetHelo(VerbUnknown, "")
	sess.Extensions = driver.Interpreter.Registry.ComputeExtensions(false)
	return nil
}

// readMore appends the next chunk from the peer to the session input buffer, translating read
// failures into the session's shutdown replies.
func (driver *Driver) readMore() {
	sess := driver.Session
	chunk, err := driver.Reader.ReadChunk()
	if len(chunk) > 0 {
		sess.Input = append(sess.Input, chunk...)
	}
	if err == nil {
		return
	}
	switch {
	case IsTimeout(err):
		driver.Logger.Info(sess.Conn.PeerAddr, nil, "the peer went quiet for longer than the command timeout")
		sess.SayShutdownServiceErr()
	case errors.Is(err, syscall.ECONNREFUSED):
		sess.SayShutdownProcessingErr("the protective layer refused further reading")
	case errors.Is(err, io.EOF):
		if len(sess.Input) == 0 {
			// The peer went silent in between commands, the conversation is over.
			sess.Shutdown()
		} else {
			sess.SayShutdownProcessingErr("the peer left an incomplete command behind")
		}
	default:
		driver.Logger.MaybeMinorError(err)
		sess.Shutdown()
	}
}

// writeAll writes the bytes in full under the write deadline.
func (driver *Driver) writeAll(b []byte) error {
	if driver.Session.CommandTimeout > 0 {
		if err := driver.Conn.SetWriteDeadline(time.Now().Add(driver.Session.CommandTimeout)); err != nil {
			return err
		}
	}
	for len(b) > 0 {
		n, err := driver.Conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// dropLine removes the first line (or, without a terminator, everything) from the input buffer
// and returns the number of bytes removed.
func dropLine(sess *Session) int {
	split := len(sess.Input)
	for i, b := range sess.Input {
		if b == '\n' {
			split = i + 1
			break
		}
	}
	sess.Input = sess.Input[split:]
	return split
}
