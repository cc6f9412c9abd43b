package smtp

import (
	"errors"
	"strings"
	"testing"
)

func parseOne(t *testing.T, line string) *Command {
	t.Helper()
	parser := &CommandParser{}
	consumed, cmd, err := parser.Parse([]byte(line))
	if err != nil {
		t.Fatalf("failed to parse %q - %v", line, err)
	}
	if consumed != len(line) {
		t.Fatalf("parsing %q consumed %d bytes", line, consumed)
	}
	return cmd
}

func TestCommandParser_Incomplete(t *testing.T) {
	parser := &CommandParser{}
	if _, _, err := parser.Parse([]byte("HELO exam")); !errors.Is(err, ErrIncomplete) {
		t.Fatal(err)
	}
	if _, _, err := parser.Parse([]byte("")); !errors.Is(err, ErrIncomplete) {
		t.Fatal(err)
	}
}

func TestCommandParser_Helo(t *testing.T) {
	cmd := parseOne(t, "HELO client.example.org\r\n")
	if cmd.Verb != VerbHelo || cmd.HeloName != "client.example.org" {
		t.Fatalf("%+v", cmd)
	}
	// Lower case and a lone LF terminator are tolerated
	cmd = parseOne(t, "ehlo client\n")
	if cmd.Verb != VerbEhlo || cmd.HeloName != "client" {
		t.Fatalf("%+v", cmd)
	}
	cmd = parseOne(t, "LHLO client\r\n")
	if cmd.Verb != VerbLhlo {
		t.Fatalf("%+v", cmd)
	}
	// Argumentless HELO is accepted, relaxed from the RFC
	cmd = parseOne(t, "HELO\r\n")
	if cmd.Verb != VerbHelo || cmd.HeloName != "" {
		t.Fatalf("%+v", cmd)
	}
}

func TestCommandParser_Mail(t *testing.T) {
	cmd := parseOne(t, "MAIL FROM:<howard@example.com>\r\n")
	if cmd.Verb != VerbMail || cmd.Path.Address() != "howard@example.com" || len(cmd.Params) != 0 {
		t.Fatalf("%+v", cmd)
	}
	cmd = parseOne(t, "MAIL FROM:<> SIZE=1024 BODY=8BITMIME\r\n")
	if cmd.Verb != VerbMail || !cmd.Path.IsNull() {
		t.Fatalf("%+v", cmd)
	}
	if size, ok := cmd.Param("size"); !ok || size != "1024" {
		t.Fatalf("%+v", cmd.Params)
	}
	if body, ok := cmd.Param("BODY"); !ok || body != "8BITMIME" {
		t.Fatalf("%+v", cmd.Params)
	}
	// A space between the colon and the bracket is tolerated
	cmd = parseOne(t, "MAIL FROM: <howard@example.com>\r\n")
	if cmd.Verb != VerbMail || cmd.Path.Address() != "howard@example.com" {
		t.Fatalf("%+v", cmd)
	}
}

func TestCommandParser_Rcpt(t *testing.T) {
	cmd := parseOne(t, "RCPT TO:<v@b.example>\r\n")
	if cmd.Verb != VerbRcpt || cmd.Path.Address() != "v@b.example" {
		t.Fatalf("%+v", cmd)
	}
}

func TestCommandParser_MailFailures(t *testing.T) {
	parser := &CommandParser{}
	for _, line := range []string{
		"MAIL FROM\r\n",
		"MAIL FROM:howard@example.com\r\n",
		"MAIL FROM:<howard@example.com\r\n",
		"RCPT TO:<nodomain>\r\n",
	} {
		var failure *ParseFailure
		if _, _, err := parser.Parse([]byte(line)); !errors.As(err, &failure) {
			t.Fatalf("did not fail on %q - %v", line, err)
		}
	}
}

func TestCommandParser_NoArgCommands(t *testing.T) {
	for _, tc := range []struct {
		line string
		verb Verb
	}{
		{"DATA\r\n", VerbData},
		{"RSET\r\n", VerbRset},
		{"QUIT\r\n", VerbQuit},
		{"STARTTLS\r\n", VerbStartTLS},
		{"TURN\r\n", VerbTurn},
		{"QUIT \r\n", VerbQuit}, // trailing space is tolerated
	} {
		cmd := parseOne(t, tc.line)
		if cmd.Verb != tc.verb {
			t.Fatalf("%q parsed to %v", tc.line, cmd.Verb)
		}
	}
	parser := &CommandParser{}
	var failure *ParseFailure
	if _, _, err := parser.Parse([]byte("DATA now\r\n")); !errors.As(err, &failure) {
		t.Fatal(err)
	}
}

func TestCommandParser_Unknown(t *testing.T) {
	cmd := parseOne(t, "FROB something\r\n")
	if cmd.Verb != VerbUnknown || cmd.Arg != "FROB something" {
		t.Fatalf("%+v", cmd)
	}
	// A known verb fused to extra letters is not that verb
	cmd = parseOne(t, "DATAX\r\n")
	if cmd.Verb != VerbUnknown {
		t.Fatalf("%+v", cmd)
	}
}

func TestCommandParser_OverlongLine(t *testing.T) {
	parser := &CommandParser{}
	long := strings.Repeat("x", MaxCommandLineBytes+10)
	var failure *ParseFailure
	if _, _, err := parser.Parse([]byte(long)); !errors.As(err, &failure) {
		t.Fatal(err)
	}
	if _, _, err := parser.Parse([]byte(long + "\r\n")); !errors.As(err, &failure) {
		t.Fatal(err)
	}
}

func TestCommandParser_Vrfy(t *testing.T) {
	cmd := parseOne(t, "VRFY howard\r\n")
	if cmd.Verb != VerbVrfy || cmd.Arg != "howard" {
		t.Fatalf("%+v", cmd)
	}
	cmd = parseOne(t, "NOOP whatever trailing words\r\n")
	if cmd.Verb != VerbNoop {
		t.Fatalf("%+v", cmd)
	}
	cmd = parseOne(t, "HELP\r\n")
	if cmd.Verb != VerbHelp {
		t.Fatalf("%+v", cmd)
	}
}
