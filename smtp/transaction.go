package smtp

import (
	"crypto/rand"
	"encoding/hex"
)

// Recipient is one accepted forward path of the transaction.
type Recipient struct {
	// Path is the delivery path, possibly rewritten by a mail guard.
	Path Path
	// AsReceived is the forward path exactly as the peer supplied it.
	AsReceived Path
}

/*
Transaction is one mail transaction within a session: the reverse path announced by MAIL FROM,
the recipients accumulated by RCPT TO, and while DATA is in progress, the sink receiving the
message body. The session owns the transaction exclusively; the transaction owns the body sink
exclusively while one exists.
*/
type Transaction struct {
	// ID is an opaque unique identifier assigned when MAIL FROM is accepted.
	ID string
	// ReversePath is nil until MAIL FROM is accepted; the null sender is a non-nil null path.
	ReversePath *Path
	// Recipients holds the accepted forward paths in the order they arrived.
	Recipients []Recipient
	// ExtraHeaders is prepended to the message by dispatchers that record a trace header.
	ExtraHeaders string
	// Sink is non-nil only between an accepted DATA and the end of data.
	Sink BodySink
	// BodyBytes counts the decoded body octets received so far, including those not written to
	// the sink after the size limit was exceeded or a write failed.
	BodyBytes int64

	// sinkFailed is latched when a body write fails, the disposition becomes a 4xx.
	sinkFailed bool
	// oversized is latched when the body grows past the announced maximum.
	oversized bool
}

// NewTransactionID returns a random, practically unique transaction identifier.
func NewTransactionID() string {
	id := make([]byte, 8)
	if _, err := rand.Read(id); err != nil {
		// The system random source failing is beyond repair here.
		panic(err)
	}
	return hex.EncodeToString(id)
}

// IsEmpty returns true only if no part of the transaction has begun.
func (tx *Transaction) IsEmpty() bool {
	return tx.ID == "" && tx.ReversePath == nil && len(tx.Recipients) == 0 &&
		tx.ExtraHeaders == "" && tx.Sink == nil
}

// Reset returns the transaction to its pristine state. An open sink is simply dropped, which
// by the sink contract must not commit the message.
func (tx *Transaction) Reset() {
	*tx = Transaction{}
}
