package smtpd

import (
	"context"
	"strings"
	"testing"

	"github.com/postfern/smtpd/smtp"
)

func rcptTo(t *testing.T, bracketed string) smtp.Recipient {
	t.Helper()
	path, err := smtp.ParsePath(bracketed)
	if err != nil {
		t.Fatal(err)
	}
	return smtp.Recipient{Path: path, AsReceived: path}
}

func TestGetLookupName(t *testing.T) {
	name, err := GetLookupName("1.2.3.4", "bl.spamcop.net")
	if err != nil {
		t.Fatal(err)
	}
	if name != "4.3.2.1.bl.spamcop.net." {
		t.Fatal(name)
	}
	if _, err := GetLookupName("not-an-ip", "bl.spamcop.net"); err == nil {
		t.Fatal("did not reject an invalid IP")
	}
	if _, err := GetLookupName("2001:db8::1", "bl.spamcop.net"); err == nil {
		t.Fatal("did not reject an IPv6 address")
	}
}

func TestDNSBLGuard_Initialise(t *testing.T) {
	guard := DNSBLGuard{}
	if err := guard.Initialise(); err == nil {
		t.Fatal("did not reject empty lookup domains")
	}
	guard = DNSBLGuard{LookupDomains: []string{"bl.example.net"}, ResolverAddr: "192.0.2.1:53"}
	if err := guard.Initialise(); err != nil {
		t.Fatal(err)
	}
	if guard.resolverAddr != "192.0.2.1:53" {
		t.Fatal(guard.resolverAddr)
	}
}

func TestDNSBLGuard_UnreachableResolver(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation, the query can only time out
	guard := DNSBLGuard{LookupDomains: []string{"bl.example.net"}, ResolverAddr: "192.0.2.1:53"}
	if err := guard.Initialise(); err != nil {
		t.Fatal(err)
	}
	if guard.IsListed(context.Background(), "127.0.0.2") {
		t.Fatal("an unanswerable query must not blacklist anyone")
	}
}

func TestDomainGuard(t *testing.T) {
	guard := domainGuard{allowed: map[string]bool{"example.com": true}}
	result := guard.AddRecipient(context.Background(), nil, rcptTo(t, "<v@example.com>"))
	if result.Decision != smtp.RcptInconclusive {
		t.Fatalf("%+v", result)
	}
	result = guard.AddRecipient(context.Background(), nil, rcptTo(t, "<v@elsewhere.example>"))
	if result.Decision != smtp.RcptFailed {
		t.Fatalf("%+v", result)
	}
	if !strings.Contains(result.Description, "elsewhere.example") {
		t.Fatal(result.Description)
	}
}
