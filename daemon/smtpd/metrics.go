package smtpd

import (
	"context"
	"sync"

	"github.com/postfern/smtpd/misc"
	"github.com/postfern/smtpd/smtp"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smtpd_connections_total",
		Help: "The number of connections accepted by the SMTP daemon.",
	})
	activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "smtpd_active_connections",
		Help: "The number of connections currently being served by the SMTP daemon.",
	})
	mailQueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smtpd_mail_queued_total",
		Help: "The number of mail messages committed to a dispatcher.",
	})
	mailRefusedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smtpd_mail_refused_total",
		Help: "The number of mail messages a dispatcher declined to commit.",
	})
	conversationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "smtpd_conversation_duration_seconds",
		Help:    "The duration of completed SMTP conversations.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)

// initialiseMetrics registers the daemon metrics once, and only when the program-wide
// prometheus integration is enabled.
func initialiseMetrics() {
	if !misc.EnablePrometheusIntegration {
		return
	}
	metricsOnce.Do(func() {
		prometheus.MustRegister(connectionsTotal, activeConnections, mailQueuedTotal, mailRefusedTotal, conversationSeconds)
	})
}

func observeConversationSeconds(seconds float64) {
	conversationSeconds.Observe(seconds)
}

// metricsDispatch decorates a mail dispatcher with the queued/refused counters.
type metricsDispatch struct {
	inner smtp.MailDispatch
}

func newMetricsDispatch(inner smtp.MailDispatch) smtp.MailDispatch {
	return &metricsDispatch{inner: inner}
}

func (dispatch *metricsDispatch) OpenMailBody(ctx context.Context, sess *smtp.Session, tx *smtp.Transaction) (smtp.BodySink, error) {
	sink, err := dispatch.inner.OpenMailBody(ctx, sess, tx)
	if err != nil {
		mailRefusedTotal.Inc()
		return nil, err
	}
	return &metricsSink{inner: sink}, nil
}

type metricsSink struct {
	inner smtp.BodySink
}

func (sink *metricsSink) Write(p []byte) (int, error) {
	return sink.inner.Write(p)
}

func (sink *metricsSink) Close(ctx context.Context) (string, error) {
	id, err := sink.inner.Close(ctx)
	if err != nil {
		mailRefusedTotal.Inc()
		return id, err
	}
	mailQueuedTotal.Inc()
	return id, nil
}

// Abort forwards the abandonment to the decorated sink.
func (sink *metricsSink) Abort() {
	if aborter, ok := sink.inner.(interface{ Abort() }); ok {
		aborter.Abort()
	}
	mailRefusedTotal.Inc()
}
