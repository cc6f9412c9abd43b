package inet

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/postfern/smtpd/mlog"
)

// MailIOTimeoutSec is the timeout for contacting the remote MTA.
const MailIOTimeoutSec = 10

/*
dialMTA establishes a TCP connection to the MTA and returns it. Whatever the MTA port, the function
first attempts a TLS handshake over the connection; should the handshake fail, a new ordinary TCP
connection is dialled and used, and the handshake error is returned as tlsErr.
*/
func dialMTA(host string, serverTLSName string, port int) (smtpClient *smtp.Client, tlsErr, err error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), MailIOTimeoutSec*time.Second)
	if err != nil {
		return
	}
	tlsConn := tls.Client(conn, &tls.Config{ServerName: serverTLSName})
	if err = tlsConn.Handshake(); err == nil {
		smtpClient, err = smtp.NewClient(tlsConn, host)
	} else {
		// The TLS handshake failed, the port likely does not use implicit TLS, re-establish a plain TCP connection.
		tlsErr = err
		_ = conn.Close()
		conn, err = net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), MailIOTimeoutSec*time.Second)
		if err != nil {
			return
		}
		smtpClient, err = smtp.NewClient(conn, host)
	}
	return
}

// checkNoCRLF returns an error only if the line contains carriage-return or line-feed, which are not
// permitted in SMTP command parameters according to RFC 5321.
func checkNoCRLF(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return errors.New("smtp: a line must not contain CR or LF")
	}
	return nil
}

// sendMail uses the connected client to switch to TLS when the MTA offers STARTTLS, optionally presents client
// credentials for authentication, and then sends a mail.
func sendMail(smtpClient *smtp.Client, serverTLSName string, auth smtp.Auth, from string, recipients []string, message []byte) error {
	if err := checkNoCRLF(from); err != nil {
		return err
	}
	for _, recipient := range recipients {
		if err := checkNoCRLF(recipient); err != nil {
			return err
		}
	}
	defer func() {
		_ = smtpClient.Close()
	}()
	if canStartTLS, _ := smtpClient.Extension("STARTTLS"); canStartTLS {
		if err := smtpClient.StartTLS(&tls.Config{ServerName: serverTLSName}); err != nil {
			return err
		}
	}
	if auth != nil {
		if canAuth, _ := smtpClient.Extension("AUTH"); canAuth {
			if err := smtpClient.Auth(auth); err != nil {
				return err
			}
		}
	}
	if err := smtpClient.Mail(from); err != nil {
		return err
	}
	for _, recipient := range recipients {
		if err := smtpClient.Rcpt(recipient); err != nil {
			return err
		}
	}
	smtpData, err := smtpClient.Data()
	if err != nil {
		return err
	}
	if _, err := smtpData.Write(message); err != nil {
		return err
	}
	if err := smtpData.Close(); err != nil {
		return err
	}
	return smtpClient.Quit()
}

// CommonMailLogger is shared by all mail clients to log mail delivery progress.
var CommonMailLogger = mlog.Logger{
	ComponentName: "mailclient",
	ComponentID:   []mlog.IDField{{Key: "Common", Value: "Shared"}},
}

// MailClient delivers complete mail messages to a remote MTA via SMTP.
type MailClient struct {
	AuthUsername string `json:"AuthUsername"` // (Optional) username for plain authentication
	AuthPassword string `json:"AuthPassword"` // (Optional) password for plain authentication
	MTAHost      string `json:"MTAHost"`      // MTA host name or IP address
	MTAPort      int    `json:"MTAPort"`      // MTA port number
	MailFrom     string `json:"MailFrom"`     // Address presented in MAIL FROM when relaying messages
}

// IsConfigured returns true only if the mail client has all the mandatory configuration for delivering mails.
func (client *MailClient) IsConfigured() bool {
	return client.MTAHost != "" && client.MTAPort != 0 && client.MailFrom != ""
}

// SendRaw delivers the raw mail message (complete with headers) to the recipients via the configured MTA.
func (client *MailClient) SendRaw(fromAddr string, rawMessage []byte, recipients ...string) error {
	if recipients == nil || len(recipients) == 0 {
		return fmt.Errorf("no recipient specified for mail from \"%s\"", fromAddr)
	}
	var auth smtp.Auth
	if client.AuthUsername != "" {
		auth = smtp.PlainAuth("", client.AuthUsername, client.AuthPassword, client.MTAHost)
	}
	smtpClient, tlsErr, err := dialMTA(client.MTAHost, client.MTAHost, client.MTAPort)
	if err != nil {
		return fmt.Errorf("MailClient.SendRaw: failed to reach MTA %s:%d - %v", client.MTAHost, client.MTAPort, err)
	}
	if tlsErr != nil {
		CommonMailLogger.Info(client.MTAHost, nil, "implicit TLS is unavailable (%v), using opportunistic STARTTLS instead", tlsErr)
	}
	if err := sendMail(smtpClient, client.MTAHost, auth, fromAddr, recipients, rawMessage); err != nil {
		return fmt.Errorf("MailClient.SendRaw: failed to deliver mail to %v - %v", recipients, err)
	}
	return nil
}
