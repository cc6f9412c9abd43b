package smtpd

import (
	"strings"
	"testing"
)

func TestDaemon_InitialiseValidation(t *testing.T) {
	daemon := Daemon{}
	if err := daemon.Initialise(); err == nil || !strings.Contains(err.Error(), "listen address") {
		t.Fatal(err)
	}
	daemon = Daemon{Address: "127.0.0.1"}
	if err := daemon.Initialise(); err == nil || !strings.Contains(err.Error(), "listen port") {
		t.Fatal(err)
	}
	daemon = Daemon{Address: "127.0.0.1", Port: 2525}
	if err := daemon.Initialise(); err == nil || !strings.Contains(err.Error(), "PerIPLimit") {
		t.Fatal(err)
	}
	daemon = Daemon{Address: "127.0.0.1", Port: 2525, PerIPLimit: 100}
	if err := daemon.Initialise(); err == nil || !strings.Contains(err.Error(), "domain names") {
		t.Fatal(err)
	}
	// Without any dispatcher the daemon is not useful
	daemon = Daemon{Address: "127.0.0.1", Port: 2525, PerIPLimit: 100, MyDomains: []string{"example.com"}}
	if err := daemon.Initialise(); err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Fatal(err)
	}
	// TLS requires both halves of the certificate
	daemon = Daemon{
		Address: "127.0.0.1", Port: 2525, PerIPLimit: 100, MyDomains: []string{"example.com"},
		MaildirPath: t.TempDir(), TLSCertPath: "/tmp/cert.pem",
	}
	if err := daemon.Initialise(); err == nil || !strings.Contains(err.Error(), "certificate or key") {
		t.Fatal(err)
	}
	// A forward address looping back to a served domain is refused
	daemon = Daemon{
		Address: "127.0.0.1", Port: 2525, PerIPLimit: 100, MyDomains: []string{"example.com"},
		ForwardTo: []string{"someone@example.com"},
	}
	daemon.ForwardMailClient.MTAHost = "mta.example.net"
	daemon.ForwardMailClient.MTAPort = 25
	daemon.ForwardMailClient.MailFrom = "mx@example.net"
	if err := daemon.Initialise(); err == nil || !strings.Contains(err.Error(), "loop back") {
		t.Fatal(err)
	}
}

func TestDaemon_InitialiseMaildir(t *testing.T) {
	daemon := Daemon{
		Address:     "127.0.0.1",
		Port:        2525,
		PerIPLimit:  100,
		MyDomains:   []string{"example.com", "example.net"},
		MaildirPath: t.TempDir(),
	}
	if err := daemon.Initialise(); err != nil {
		t.Fatal(err)
	}
	if daemon.ServiceName != "example.com example.net" {
		t.Fatal(daemon.ServiceName)
	}
	if daemon.CommandTimeoutSec != DefaultCommandTimeoutSec || daemon.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Fatal(daemon.CommandTimeoutSec, daemon.MaxMessageBytes)
	}
	if daemon.registry == nil || daemon.registry.Dispatch == nil {
		t.Fatal("the registry was not assembled")
	}
}

func TestSMTPD_StartAndBlock(t *testing.T) {
	daemon := Daemon{
		Address:     "127.0.0.1",
		Port:        40825,
		PerIPLimit:  100,
		MyDomains:   []string{"example.com"},
		MaildirPath: t.TempDir(),
	}
	if err := daemon.Initialise(); err != nil {
		t.Fatal(err)
	}
	TestSMTPD(&daemon, t)
}
