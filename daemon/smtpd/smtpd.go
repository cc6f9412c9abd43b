package smtpd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/postfern/smtpd/awsinteg"
	"github.com/postfern/smtpd/dispatch"
	"github.com/postfern/smtpd/inet"
	"github.com/postfern/smtpd/misc"
	"github.com/postfern/smtpd/mlog"
	"github.com/postfern/smtpd/smtp"
	"github.com/postfern/smtpd/testingstub"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/netutil"
)

const (
	// RateLimitIntervalSec is the interval over which the per-IP rate limit is calculated.
	RateLimitIntervalSec = 10
	// DefaultCommandTimeoutSec is the IO timeout of one command exchange.
	DefaultCommandTimeoutSec = 120
	// DefaultMaxMessageBytes caps accepted messages at 2 MB.
	DefaultMaxMessageBytes = 2 * 1024 * 1024
)

// DurationStats stores statistics of the duration of all SMTP conversations.
var DurationStats = misc.NewStats()

/*
Daemon is an SMTP/ESMTP/LMTP server that receives mails addressed to its domain names and hands
them to exactly one of the configured dispatchers: a maildir spool, a forwarding relay, or S3
storage.
*/
type Daemon struct {
	Address             string   `json:"Address"`             // Network address to listen on, e.g. 0.0.0.0 for all network interfaces.
	Port                int      `json:"Port"`                // Port number to listen on
	ServiceName         string   `json:"ServiceName"`         // (Optional) name used in the greeting banner, defaults to the joined MyDomains
	PerIPLimit          int      `json:"PerIPLimit"`          // How many times in a 10 second interval an IP may converse with this server
	MaxConcurrentConns  int      `json:"MaxConcurrentConns"`  // (Optional) cap on simultaneously served connections
	MaxMessageBytes     int64    `json:"MaxMessageBytes"`     // (Optional) cap on the accepted message size, advertised via SIZE
	CommandTimeoutSec   int      `json:"CommandTimeoutSec"`   // (Optional) IO timeout of one command exchange
	WaitForBannerMillis int      `json:"WaitForBannerMillis"` // (Optional) delay of the greeting banner; peers that talk during it are refused
	MyDomains           []string `json:"MyDomains"`           // Only accept mails addressed to these domain names

	TLSCertPath           string   `json:"TLSCertPath"`           // (Optional) serve STARTTLS via this certificate
	TLSKeyPath            string   `json:"TLSKeyPath"`            // (Optional) serve STARTTLS via this certificate (key)
	AutocertHostWhitelist []string `json:"AutocertHostWhitelist"` // (Optional) serve STARTTLS via ACME certificates for these hosts instead
	AutocertCacheDir      string   `json:"AutocertCacheDir"`      // (Optional) directory caching ACME certificates

	DNSBLLookupDomains []string `json:"DNSBLLookupDomains"` // (Optional) refuse MAIL FROM of client IPs listed by these DNS blacklists
	DNSBLResolverAddr  string   `json:"DNSBLResolverAddr"`  // (Optional) explicit "host:port" of the resolver used for blacklist queries

	MaildirPath       string          `json:"MaildirPath"`       // Store received mails in this maildir
	ForwardTo         []string        `json:"ForwardTo"`         // Forward received mails to these addresses
	ForwardMailClient inet.MailClient `json:"ForwardMailClient"` // ForwardMailClient is used to forward arriving mails
	S3Bucket          string          `json:"S3Bucket"`          // Store received mails in this S3 bucket
	S3KeyPrefix       string          `json:"S3KeyPrefix"`       // (Optional) key prefix of stored mail objects
	SQSQueueURL       string          `json:"SQSQueueURL"`       // (Optional) announce stored mails on this SQS queue
	SNSTopicARN       string          `json:"SNSTopicARN"`       // (Optional) announce stored mails on this SNS topic

	registry      *smtp.Registry
	tlsConfig     *tls.Config
	rateLimit     *mlog.RateLimit
	listener      net.Listener
	myDomainsHash map[string]bool
	logger        mlog.Logger
}

// Initialise checks the configuration and initialises the internal states.
func (daemon *Daemon) Initialise() error {
	daemon.logger = mlog.Logger{
		ComponentName: "smtpd",
		ComponentID:   []mlog.IDField{{Key: "Addr", Value: fmt.Sprintf("%s:%d", daemon.Address, daemon.Port)}},
	}
	if daemon.Address == "" {
		return errors.New("smtpd.Initialise: listen address must not be empty")
	}
	if daemon.Port < 1 {
		return errors.New("smtpd.Initialise: listen port must be greater than 0")
	}
	if daemon.PerIPLimit < 1 {
		return errors.New("smtpd.Initialise: PerIPLimit must be greater than 0")
	}
	if len(daemon.MyDomains) == 0 {
		return errors.New("smtpd.Initialise: my domain names must be configured")
	}
	if daemon.CommandTimeoutSec < 1 {
		daemon.CommandTimeoutSec = DefaultCommandTimeoutSec
	}
	if daemon.MaxMessageBytes < 1 {
		daemon.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if daemon.ServiceName == "" {
		// Greet SMTP clients with a list of domain names that this server receives mails for
		daemon.ServiceName = strings.Join(daemon.MyDomains, " ")
	}
	if err := daemon.initialiseTLS(); err != nil {
		return err
	}
	daemon.myDomainsHash = make(map[string]bool)
	for _, domain := range daemon.MyDomains {
		daemon.myDomainsHash[strings.ToLower(domain)] = true
	}
	mailDispatch, err := daemon.chooseDispatch()
	if err != nil {
		return err
	}
	daemon.registry = smtp.NewRegistry(newMetricsDispatch(mailDispatch))
	daemon.registry.MaxMessageBytes = daemon.MaxMessageBytes
	if daemon.tlsConfig != nil {
		daemon.registry.TLS = &smtp.ServerTLSUpgrader{Config: daemon.tlsConfig}
	}
	if len(daemon.DNSBLLookupDomains) > 0 {
		blGuard := &DNSBLGuard{LookupDomains: daemon.DNSBLLookupDomains, ResolverAddr: daemon.DNSBLResolverAddr}
		if err := blGuard.Initialise(); err != nil {
			return fmt.Errorf("smtpd.Initialise: %v", err)
		}
		daemon.registry.Guards = append(daemon.registry.Guards, blGuard)
	}
	daemon.registry.Guards = append(daemon.registry.Guards, &domainGuard{allowed: daemon.myDomainsHash})
	daemon.rateLimit = mlog.NewRateLimit(RateLimitIntervalSec, daemon.PerIPLimit, &daemon.logger)
	initialiseMetrics()
	return nil
}

// initialiseTLS loads the STARTTLS certificate source, static files or an ACME manager.
func (daemon *Daemon) initialiseTLS() error {
	if daemon.TLSCertPath != "" || daemon.TLSKeyPath != "" {
		if daemon.TLSCertPath == "" || daemon.TLSKeyPath == "" {
			return errors.New("smtpd.Initialise: TLS certificate or key path is missing")
		}
		certificate, err := tls.LoadX509KeyPair(daemon.TLSCertPath, daemon.TLSKeyPath)
		if err != nil {
			return fmt.Errorf("smtpd.Initialise: failed to read TLS certificate - %v", err)
		}
		daemon.tlsConfig = &tls.Config{Certificates: []tls.Certificate{certificate}}
		return nil
	}
	if len(daemon.AutocertHostWhitelist) > 0 {
		manager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(daemon.AutocertHostWhitelist...),
		}
		if daemon.AutocertCacheDir != "" {
			manager.Cache = autocert.DirCache(daemon.AutocertCacheDir)
		}
		daemon.tlsConfig = &tls.Config{GetCertificate: manager.GetCertificate}
	}
	return nil
}

// chooseDispatch constructs the one configured mail dispatcher.
func (daemon *Daemon) chooseDispatch() (smtp.MailDispatch, error) {
	var chosen []smtp.MailDispatch
	if daemon.MaildirPath != "" {
		maildir, err := dispatch.NewMaildirDispatch(daemon.MaildirPath, &daemon.logger)
		if err != nil {
			return nil, fmt.Errorf("smtpd.Initialise: %v", err)
		}
		chosen = append(chosen, maildir)
	}
	if len(daemon.ForwardTo) > 0 {
		if !daemon.ForwardMailClient.IsConfigured() {
			return nil, errors.New("smtpd.Initialise: forward addresses require a configured forward mail client")
		}
		for _, fwd := range daemon.ForwardTo {
			atSign := strings.IndexRune(fwd, '@')
			if atSign == -1 {
				return nil, fmt.Errorf("smtpd.Initialise: forward address \"%s\" must have an at sign", fwd)
			}
			if daemon.myDomainsHash[strings.ToLower(fwd[atSign+1:])] {
				return nil, fmt.Errorf("smtpd.Initialise: forward address \"%s\" must not loop back to this mail server's domain", fwd)
			}
		}
		chosen = append(chosen, dispatch.NewForwardDispatch(&daemon.ForwardMailClient, daemon.ForwardTo, &daemon.logger))
	}
	if daemon.S3Bucket != "" {
		s3Dispatch, err := daemon.initialiseS3Dispatch()
		if err != nil {
			return nil, err
		}
		chosen = append(chosen, s3Dispatch)
	}
	if len(chosen) != 1 {
		return nil, fmt.Errorf("smtpd.Initialise: exactly one of MaildirPath, ForwardTo, or S3Bucket must be configured, got %d", len(chosen))
	}
	return chosen[0], nil
}

// initialiseS3Dispatch builds the S3 dispatcher together with its optional announcers.
func (daemon *Daemon) initialiseS3Dispatch() (smtp.MailDispatch, error) {
	s3Client, err := awsinteg.NewS3Client()
	if err != nil {
		return nil, fmt.Errorf("smtpd.Initialise: %v", err)
	}
	s3Dispatch := dispatch.NewS3Dispatch(s3Client, daemon.S3Bucket, daemon.S3KeyPrefix, &daemon.logger)
	if daemon.SQSQueueURL != "" {
		sqsClient, err := awsinteg.NewSQSClient()
		if err != nil {
			return nil, fmt.Errorf("smtpd.Initialise: %v", err)
		}
		s3Dispatch.Notify = sqsClient
		s3Dispatch.QueueURL = daemon.SQSQueueURL
	}
	if daemon.SNSTopicARN != "" {
		snsClient, err := awsinteg.NewSNSClient()
		if err != nil {
			return nil, fmt.Errorf("smtpd.Initialise: %v", err)
		}
		s3Dispatch.Publish = snsClient
		s3Dispatch.TopicARN = daemon.SNSTopicARN
	}
	return s3Dispatch, nil
}

// StartAndBlock starts the SMTP daemon and blocks until the daemon is told to stop.
// You may call this function only after having called Initialise.
func (daemon *Daemon) StartAndBlock() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", daemon.Address, daemon.Port))
	if err != nil {
		return fmt.Errorf("smtpd.StartAndBlock: failed to listen on %s:%d - %v", daemon.Address, daemon.Port, err)
	}
	if daemon.MaxConcurrentConns > 0 {
		listener = netutil.LimitListener(listener, daemon.MaxConcurrentConns)
	}
	defer func() {
		_ = listener.Close()
	}()
	daemon.listener = listener
	daemon.logger.Info("", nil, "going to listen for connections")
	for {
		if misc.EmergencyLockDown {
			return misc.ErrEmergencyLockDown
		}
		clientConn, err := daemon.listener.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "closed") {
				return nil
			}
			return fmt.Errorf("smtpd.StartAndBlock: failed to accept new connection - %v", err)
		}
		go daemon.HandleConnection(clientConn)
	}
}

// HandleConnection converses in SMTP over the connection and eventually closes it.
func (daemon *Daemon) HandleConnection(clientConn net.Conn) {
	beginTimeNano := time.Now().UnixNano()
	connectionsTotal.Inc()
	activeConnections.Inc()
	defer func() {
		duration := time.Now().UnixNano() - beginTimeNano
		DurationStats.Trigger(float64(duration))
		observeConversationSeconds(float64(duration) / float64(time.Second))
		activeConnections.Dec()
	}()
	clientIP := ""
	if tcpAddr, ok := clientConn.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = tcpAddr.IP.String()
	}
	// Politely turn away the client if its rate limit is exceeded
	if !daemon.rateLimit.Add(clientIP, true) {
		_, _ = clientConn.Write(smtp.ReplyServiceNotAvailable(daemon.ServiceName).Bytes())
		_ = clientConn.Close()
		return
	}
	connInfo := smtp.ConnInfo{
		LocalAddr:   clientConn.LocalAddr().String(),
		PeerAddr:    clientConn.RemoteAddr().String(),
		PeerIP:      clientIP,
		Established: time.Now(),
	}
	var upgrader smtp.TLSUpgrader
	if daemon.registry.TLS != nil {
		upgrader = daemon.registry.TLS
	}
	tlsCapable := smtp.NewTLSCapableConn(clientConn, upgrader, "")
	sess := smtp.NewSession(daemon.ServiceName, connInfo, time.Duration(daemon.CommandTimeoutSec)*time.Second, &daemon.logger)
	driver := smtp.NewDriver(tlsCapable, sess, smtp.NewInterpreter(daemon.registry, &daemon.logger), &daemon.logger)
	driver.WaitForBanner = time.Duration(daemon.WaitForBannerMillis) * time.Millisecond
	if err := driver.Run(context.Background()); err != nil {
		daemon.logger.MaybeMinorError(err)
	}
}

// Stop closes the listener so that the connection loop of StartAndBlock will terminate.
func (daemon *Daemon) Stop() {
	if listener := daemon.listener; listener != nil {
		if err := listener.Close(); err != nil {
			daemon.logger.Warning("", err, "failed to close listener")
		}
	}
}

// domainGuard refuses recipients whose domain is not among the domains this server accepts
// mails for. Acceptable recipients are passed on to the remaining guards.
type domainGuard struct {
	allowed map[string]bool
}

func (guard *domainGuard) StartMail(ctx context.Context, sess *smtp.Session, tx *smtp.Transaction) smtp.StartMailResult {
	return smtp.StartMailAccepted()
}

func (guard *domainGuard) AddRecipient(ctx context.Context, sess *smtp.Session, rcpt smtp.Recipient) smtp.AddRecipientResult {
	domain := strings.ToLower(strings.Trim(rcpt.Path.Domain, "[]"))
	if rcpt.Path.Postmaster && rcpt.Path.Domain == "" {
		return smtp.RcptResultInconclusive()
	}
	if guard.allowed[domain] {
		return smtp.RcptResultInconclusive()
	}
	return smtp.RcptResultFailed(smtp.RcptRejectedPermanently, fmt.Sprintf("domain %q is not served here", domain))
}

// TestSMTPD runs unit tests on the daemon. See TestSMTPD_StartAndBlock for daemon setup.
func TestSMTPD(daemon *Daemon, t testingstub.T) {
	var stoppedNormally bool
	go func() {
		if err := daemon.StartAndBlock(); err != nil {
			t.Error(err)
			return
		}
		stoppedNormally = true
	}()
	addr := fmt.Sprintf("%s:%d", daemon.Address, daemon.Port)
	// Expect the daemon to start within a second
	time.Sleep(1 * time.Second)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	reader := make([]byte, 1024)
	if _, err := conn.Read(reader); err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{
		"HELO example\r\n",
		"MAIL FROM:<howard@localhost>\r\n",
		fmt.Sprintf("RCPT TO:<test@%s>\r\n", daemon.MyDomains[0]),
		"DATA\r\n",
	} {
		if _, err := conn.Write([]byte(line)); err != nil {
			t.Fatal(err)
		}
		if _, err := conn.Read(reader); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := conn.Write([]byte("subject: test\r\n\r\nhello\r\n.\r\nQUIT\r\n")); err != nil {
		t.Fatal(err)
	}
	_, _ = conn.Read(reader)
	_ = conn.Close()
	// The daemon must stop in a second
	daemon.Stop()
	time.Sleep(1 * time.Second)
	if !stoppedNormally {
		t.Fatal("did not stop")
	}
	// Repeatedly stopping the daemon should have no negative consequence
	daemon.Stop()
	daemon.Stop()
}
