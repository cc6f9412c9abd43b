package smtp

import (
	"fmt"
	"strings"
)

/*
Path is a reverse path or forward path of the mail transaction, i.e. the content between the angle
brackets of MAIL FROM and RCPT TO. The null path "<>" identifies the null sender used by delivery
status notifications. The special form "<Postmaster>" is accepted without a domain name.
*/
type Path struct {
	Null       bool
	Postmaster bool
	LocalPart  string
	// Domain is the domain name of the mailbox, or the bracketed address literal such as
	// "[127.0.0.1]" or "[IPv6:::1]".
	Domain string
}

// IsNull returns true only for the null path "<>".
func (path Path) IsNull() bool {
	return path.Null
}

// Address returns the bare mailbox address without angle brackets, e.g. "howard@example.com".
func (path Path) Address() string {
	if path.Null {
		return ""
	}
	if path.Postmaster && path.Domain == "" {
		return "Postmaster"
	}
	return path.LocalPart + "@" + path.Domain
}

// String returns the path in its angle bracket form, e.g. "<howard@example.com>" or "<>".
func (path Path) String() string {
	return "<" + path.Address() + ">"
}

// SameDomain compares the path's domain name to another, ignoring character case.
func (path Path) SameDomain(domain string) bool {
	return strings.EqualFold(path.Domain, domain)
}

/*
ParsePath parses the content between the angle brackets of a MAIL FROM or RCPT TO parameter.
The input must include the angle brackets. Understood forms are the null path "<>", the
postmaster special form, an optional source route prefix ("@relay1,@relay2:", accepted and
discarded), a dot-atom or quoted-string local part, and a dot-atom domain or a bracketed
address literal.
*/
func ParsePath(input string) (Path, error) {
	if len(input) < 2 || input[0] != '<' || input[len(input)-1] != '>' {
		return Path{}, fmt.Errorf("path %q is not enclosed in angle brackets", input)
	}
	inner := input[1 : len(input)-1]
	if inner == "" {
		return Path{Null: true}, nil
	}
	if strings.EqualFold(inner, "postmaster") {
		return Path{Postmaster: true, LocalPart: inner}, nil
	}
	// Discard the obsolete source route prefix, e.g. "@a,@b:user@domain"
	if inner[0] == '@' {
		colon := strings.IndexByte(inner, ':')
		if colon == -1 {
			return Path{}, fmt.Errorf("path %q carries a malformed source route", input)
		}
		inner = inner[colon+1:]
	}
	localPart, domain, err := splitMailbox(inner)
	if err != nil {
		return Path{}, err
	}
	path := Path{LocalPart: localPart, Domain: domain}
	if strings.EqualFold(localPart, "postmaster") {
		path.Postmaster = true
	}
	return path, nil
}

// splitMailbox breaks "local@domain" apart, honouring quoted-string local parts.
func splitMailbox(mailbox string) (localPart, domain string, err error) {
	if mailbox == "" {
		return "", "", fmt.Errorf("mailbox is empty")
	}
	var at int
	if mailbox[0] == '"' {
		// Scan the quoted string for its closing quote, skipping backslash escapes.
		closing := -1
		for i := 1; i < len(mailbox); i++ {
			if mailbox[i] == '\\' {
				i++
				continue
			}
			if mailbox[i] == '"' {
				closing = i
				break
			}
		}
		if closing == -1 {
			return "", "", fmt.Errorf("mailbox %q has an unterminated quoted string", mailbox)
		}
		at = closing + 1
		if at >= len(mailbox) || mailbox[at] != '@' {
			return "", "", fmt.Errorf("mailbox %q is missing the at-sign after the quoted string", mailbox)
		}
	} else {
		at = strings.LastIndexByte(mailbox, '@')
		if at == -1 {
			return "", "", fmt.Errorf("mailbox %q is missing the at-sign", mailbox)
		}
	}
	localPart = mailbox[:at]
	domain = mailbox[at+1:]
	if localPart == "" {
		return "", "", fmt.Errorf("mailbox %q has an empty local part", mailbox)
	}
	if err := checkDomain(domain); err != nil {
		return "", "", err
	}
	return localPart, domain, nil
}

// checkDomain validates a dot-atom domain name or a bracketed address literal.
func checkDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("domain is empty")
	}
	if domain[0] == '[' {
		if domain[len(domain)-1] != ']' || len(domain) < 3 {
			return fmt.Errorf("domain literal %q is not properly bracketed", domain)
		}
		return nil
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return fmt.Errorf("domain %q has an empty label", domain)
		}
		for _, r := range label {
			if r == ' ' || r == '<' || r == '>' || r == '\r' || r == '\n' {
				return fmt.Errorf("domain %q contains an illegal character", domain)
			}
		}
	}
	return nil
}
