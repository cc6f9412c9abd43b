package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/postfern/smtpd/mlog"
	"github.com/postfern/smtpd/smtp"
)

/*
MaildirDispatch stores accepted messages in a maildir-style spool: the body is streamed into
tmp/ while DATA is in progress, and the finished file is renamed into new/ on commit. Aborting a
sink removes its tmp file; a sink that is dropped without Close or Abort leaves nothing behind
but a stale tmp file, which by maildir convention is never picked up by readers.
*/
type MaildirDispatch struct {
	Dir    string
	Logger *mlog.Logger

	hostname string
}

// NewMaildirDispatch creates the maildir structure beneath dir and returns the dispatcher.
func NewMaildirDispatch(dir string, logger *mlog.Logger) (*MaildirDispatch, error) {
	if logger == nil {
		logger = mlog.DefaultLogger
	}
	for _, sub := range []string{"tmp", "new", "cur"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, fmt.Errorf("NewMaildirDispatch: failed to create %s - %v", filepath.Join(dir, sub), err)
		}
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &MaildirDispatch{Dir: dir, Logger: logger, hostname: hostname}, nil
}

// OpenMailBody opens a fresh tmp file for the transaction body.
func (dispatch *MaildirDispatch) OpenMailBody(ctx context.Context, sess *smtp.Session, tx *smtp.Transaction) (smtp.BodySink, error) {
	name := fmt.Sprintf("%d.%s.%s", time.Now().UnixNano(), tx.ID, dispatch.hostname)
	tmpPath := filepath.Join(dispatch.Dir, "tmp", name)
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		dispatch.Logger.Warning(sess.Conn.PeerAddr, err, "failed to open the spool file")
		return nil, &smtp.DispatchError{Temporary: true, Reason: "the mail spool is unavailable"}
	}
	if tx.ExtraHeaders != "" {
		if _, err := file.WriteString(tx.ExtraHeaders); err != nil {
			_ = file.Close()
			_ = os.Remove(tmpPath)
			return nil, &smtp.DispatchError{Temporary: true, Reason: "the mail spool is unavailable"}
		}
	}
	return &maildirSink{
		file:    file,
		tmpPath: tmpPath,
		newPath: filepath.Join(dispatch.Dir, "new", name),
		id:      name,
		logger:  dispatch.Logger,
	}, nil
}

type maildirSink struct {
	file    *os.File
	tmpPath string
	newPath string
	id      string
	logger  *mlog.Logger
}

func (sink *maildirSink) Write(p []byte) (int, error) {
	return sink.file.Write(p)
}

// Close commits the message by renaming it from tmp/ into new/ and returns the file name as the queue id.
func (sink *maildirSink) Close(ctx context.Context) (string, error) {
	if err := sink.file.Close(); err != nil {
		_ = os.Remove(sink.tmpPath)
		return "", &smtp.DispatchError{Temporary: true, Reason: "failed to finish the spool file"}
	}
	if err := os.Rename(sink.tmpPath, sink.newPath); err != nil {
		_ = os.Remove(sink.tmpPath)
		return "", &smtp.DispatchError{Temporary: true, Reason: "failed to commit the spool file"}
	}
	return sink.id, nil
}

// Abort discards the message without committing it.
func (sink *maildirSink) Abort() {
	_ = sink.file.Close()
	if err := os.Remove(sink.tmpPath); err != nil && !os.IsNotExist(err) {
		sink.logger.MaybeMinorError(err)
	}
}
