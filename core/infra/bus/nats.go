package bus

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
)

const (
	envUseJetStream = "EXTSTORE_NATS_JETSTREAM"
	envJSMaxAge     = "EXTSTORE_NATS_JS_MAX_AGE"

	defaultMaxAge   = 30 * 24 * time.Hour
	defaultDupes    = 10 * time.Minute
	connectTimeout  = 5 * time.Second
	flushTimeout    = 5 * time.Second
	streamName      = "EXTSTORE_EVENTS"
	connectionLabel = "extstore"
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errEmptyTopic = errors.New("empty subject")
)

// NatsBus publishes raw payloads on NATS, through JetStream when enabled.
type NatsBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	jsEnabled bool
}

// NewNatsBus dials NATS at url. When JetStream is enabled a stream covering
// subject.> is ensured.
func NewNatsBus(url, subject string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name(connectionLabel),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(3),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
	}
	tlsCfg, err := natsTLSConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, nats.Secure(tlsCfg))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	b := &NatsBus{nc: nc}
	if jetStreamEnabled() {
		b.initJetStream(subject)
	}
	return b, nil
}

// Close flushes pending messages and closes the connection.
func (b *NatsBus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	if err := b.nc.FlushTimeout(flushTimeout); err != nil {
		logging.Warn("bus", "flush before close failed", "error", err)
	}
	b.nc.Close()
}

// Publish sends data on subject. msgID deduplicates JetStream publishes and
// is ignored on core NATS.
func (b *NatsBus) Publish(subject, msgID string, data []byte) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if b.jsEnabled {
		var opts []nats.PubOpt
		if msgID != "" {
			opts = append(opts, nats.MsgId(msgID))
		}
		_, err := b.js.Publish(subject, data, opts...)
		return err
	}
	return b.nc.Publish(subject, data)
}

func (b *NatsBus) ConnectedURL() string {
	if b == nil || b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}

func jetStreamEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envUseJetStream))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func maxAgeFromEnv() time.Duration {
	if v := strings.TrimSpace(os.Getenv(envJSMaxAge)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultMaxAge
}

func (b *NatsBus) initJetStream(subject string) {
	js, err := b.nc.JetStream()
	if err != nil {
		logging.Warn("bus", "jetstream init failed", "error", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		logging.Warn("bus", "jetstream not available", "error", err)
		return
	}
	cfg := &nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subject + ".>"},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     maxAgeFromEnv(),
		Duplicates: defaultDupes,
	}
	if _, err := js.AddStream(cfg); err != nil {
		if _, infoErr := js.StreamInfo(streamName); infoErr != nil {
			logging.Warn("bus", "jetstream ensure stream failed", "stream", streamName, "error", err)
			return
		}
	}
	b.js = js
	b.jsEnabled = true
	logging.Info("bus", "jetstream enabled", "stream", streamName, "subjects", cfg.Subjects)
}
