package smtpd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/postfern/smtpd/mlog"
	"github.com/postfern/smtpd/smtp"
)

// BlacklistQueryTimeout bounds the combined duration of all blacklist look-ups of one suspect IP.
const BlacklistQueryTimeout = 1 * time.Second

/*
DNSBLGuard is a mail guard that looks up the client IP address in DNS-based spam blacklists.
Each blacklist look-up service resolves a name constructed from the reversed IPv4 address
(e.g. resolving 4.3.2.1.bl.example.net determines the blacklist status of 1.2.3.4); a
successful resolution means the address is listed. A listed client has its MAIL FROM refused;
recipients are never judged by this guard.
*/
type DNSBLGuard struct {
	LookupDomains []string
	// ResolverAddr is the "host:port" of the resolver to query; empty picks the first
	// resolver of /etc/resolv.conf.
	ResolverAddr string

	resolverAddr string
	logger       mlog.Logger
}

// Initialise determines the resolver to use for the blacklist queries.
func (guard *DNSBLGuard) Initialise() error {
	guard.logger = mlog.Logger{ComponentName: "dnsblguard"}
	if len(guard.LookupDomains) == 0 {
		return fmt.Errorf("DNSBLGuard.Initialise: no blacklist lookup domains are configured")
	}
	if guard.ResolverAddr != "" {
		guard.resolverAddr = guard.ResolverAddr
		return nil
	}
	dnsConfig, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(dnsConfig.Servers) == 0 {
		return fmt.Errorf("DNSBLGuard.Initialise: resolv.conf is unusable, specify an explicit resolver address instead")
	}
	guard.resolverAddr = net.JoinHostPort(dnsConfig.Servers[0], dnsConfig.Port)
	return nil
}

/*
GetLookupName returns the DNS name constructed from the suspect IP and the blacklist look-up
domain. In order to look up the suspect IP 1.2.3.4 via bl.spamcop.net, the function returns
"4.3.2.1.bl.spamcop.net.".
*/
func GetLookupName(suspectIP, lookupDomain string) (string, error) {
	suspectIPv4 := net.ParseIP(suspectIP).To4()
	if suspectIPv4 == nil || len(suspectIPv4) < 4 {
		return "", fmt.Errorf("GetLookupName: suspect IP %s does not appear to be a valid IPv4 address", suspectIP)
	}
	return fmt.Sprintf("%d.%d.%d.%d.%s.", suspectIPv4[3], suspectIPv4[2], suspectIPv4[1], suspectIPv4[0], lookupDomain), nil
}

/*
IsListed looks up the suspect IP from all configured blacklists concurrently. If any blacklist
lists the suspect IP, the function returns true. If the IP is not listed, or the status cannot
be determined within the query timeout, the function returns false.
*/
func (guard *DNSBLGuard) IsListed(ctx context.Context, suspectIP string) bool {
	verdicts := make(chan bool, len(guard.LookupDomains))
	timeoutCtx, cancel := context.WithTimeout(ctx, BlacklistQueryTimeout)
	defer cancel()
	for _, lookupDomain := range guard.LookupDomains {
		go func(lookupDomain string) {
			lookupName, err := GetLookupName(suspectIP, lookupDomain)
			if err != nil {
				// Cannot possibly blacklist an invalid client IP
				verdicts <- false
				return
			}
			client := new(dns.Client)
			query := new(dns.Msg)
			query.RecursionDesired = true
			query.SetQuestion(lookupName, dns.TypeA)
			response, _, err := client.ExchangeContext(timeoutCtx, query, guard.resolverAddr)
			// A successful resolution with answers means the client IP is listed
			verdicts <- err == nil && response != nil && response.Rcode == dns.RcodeSuccess && len(response.Answer) > 0
		}(lookupDomain)
	}
	for range guard.LookupDomains {
		select {
		case <-timeoutCtx.Done():
			return false
		case listed := <-verdicts:
			if listed {
				return true
			}
		}
	}
	return false
}

// StartMail refuses the sender when the client IP is listed by any of the blacklists.
func (guard *DNSBLGuard) StartMail(ctx context.Context, sess *smtp.Session, tx *smtp.Transaction) smtp.StartMailResult {
	if sess.Conn.PeerIP == "" {
		return smtp.StartMailAccepted()
	}
	if guard.IsListed(ctx, sess.Conn.PeerIP) {
		guard.logger.Warning(sess.Conn.PeerIP, nil, "refusing mail from a blacklisted client")
		return smtp.StartMailFailed(smtp.StartMailRejected, "the client IP address is present on a spam blacklist")
	}
	return smtp.StartMailAccepted()
}

// AddRecipient leaves the recipient decision to the other guards.
func (guard *DNSBLGuard) AddRecipient(ctx context.Context, sess *smtp.Session, rcpt smtp.Recipient) smtp.AddRecipientResult {
	return smtp.RcptResultInconclusive()
}
