package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/postfern/smtpd/smtp"
)

func TestMaildirDispatch_Commit(t *testing.T) {
	dir := t.TempDir()
	maildir, err := NewMaildirDispatch(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	tx := &smtp.Transaction{ID: "abc123", ExtraHeaders: "Received: by test\r\n"}
	sess := &smtp.Session{}
	sink, err := maildir.OpenMailBody(context.Background(), sess, tx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Write([]byte("subject: hi\r\n\r\nbody\r\n")); err != nil {
		t.Fatal(err)
	}
	id, err := sink.Close(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("queue id must not be empty")
	}
	content, err := os.ReadFile(filepath.Join(dir, "new", id))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "Received: by test\r\nsubject: hi\r\n\r\nbody\r\n" {
		t.Fatalf("%q", string(content))
	}
	// The tmp file is gone after the rename
	entries, err := os.ReadDir(filepath.Join(dir, "tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatal("tmp must be empty after commit")
	}
}

func TestMaildirDispatch_Abort(t *testing.T) {
	dir := t.TempDir()
	maildir, err := NewMaildirDispatch(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	tx := &smtp.Transaction{ID: "abc123"}
	sink, err := maildir.OpenMailBody(context.Background(), &smtp.Session{}, tx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Write([]byte("partial")); err != nil {
		t.Fatal(err)
	}
	sink.(interface{ Abort() }).Abort()
	for _, sub := range []string{"tmp", "new"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Fatalf("%s must be empty after abort", sub)
		}
	}
}

