/*
postfern/smtpd is a mail server for receiving Internet mail addressed to your domain names.
The received mails are stored in a maildir spool, forwarded to other addresses via an outbound
MTA, or stored in S3 with optional SQS/SNS arrival notifications. The server speaks ESMTP with
STARTTLS, and LMTP for local delivery agents.
*/
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/postfern/smtpd/misc"
	"github.com/postfern/smtpd/mlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var logger = mlog.Logger{ComponentName: "main", ComponentID: []mlog.IDField{{Key: "PID", Value: os.Getpid()}}}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		logger.Abort(configPath, err, "failed to read the configuration file")
		return
	}
	var config Config
	if err := config.DeserialiseFromJSON(configBytes); err != nil {
		logger.Abort(configPath, err, "failed to interpret the configuration file")
		return
	}

	misc.EnablePrometheusIntegration = config.EnablePrometheusIntegration
	if config.EnablePrometheusIntegration && config.MetricsPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(fmt.Sprintf("localhost:%d", config.MetricsPort), mux); err != nil {
				logger.Warning(config.MetricsPort, err, "the metrics endpoint failed")
			}
		}()
	}

	daemon := config.SMTPDaemon
	if err := daemon.Initialise(); err != nil {
		logger.Abort("smtpd", err, "failed to initialise the mail daemon")
		return
	}
	logger.Info("smtpd", nil, "starting the mail daemon on %s:%d", daemon.Address, daemon.Port)
	if err := daemon.StartAndBlock(); err != nil {
		logger.Abort("smtpd", err, "the mail daemon stopped abnormally")
	}
}
