// Package bus mirrors workflow lifecycle events onto NATS so external
// consumers can follow runs without holding an HTTP stream open. The
// bridge is optional: without NATS_URL the gateway runs with a nil
// bridge and every method no-ops, so call sites stay unconditional.
package bus

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/modelmux/modelmux/core/infra/logging"
)

const (
	eventSubjectPrefix = "workflow.events."

	envTLSCA       = "NATS_TLS_CA"
	envTLSCert     = "NATS_TLS_CERT"
	envTLSKey      = "NATS_TLS_KEY"
	envTLSInsecure = "NATS_TLS_INSECURE"

	reconnectWait = 2 * time.Second
)

var (
	errNilBridge    = errors.New("nats bridge not initialized")
	errEmptySubject = errors.New("empty subject")
)

// Bridge is a thin wrapper over a NATS connection that publishes
// JSON-encoded workflow events.
type Bridge struct {
	nc *nats.Conn
}

// EventSubject returns the per-workflow subject events are mirrored on.
func EventSubject(workflowID string) string {
	return eventSubjectPrefix + workflowID
}

// WildcardSubject matches the event streams of all workflows.
func WildcardSubject() string {
	return eventSubjectPrefix + ">"
}

// Connect dials NATS at url with unbounded reconnects. TLS material
// for private CAs comes from the NATS_TLS_* environment variables.
func Connect(url string) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name("modelmux-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("bus", "nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logging.Info("bus", "nats connection closed")
		}),
	}
	tlsConfig, err := natsTLSConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, nats.Secure(tlsConfig))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bridge{nc: nc}, nil
}

// Close drains the underlying connection.
func (b *Bridge) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// PublishEvent mirrors a single workflow event onto its subject.
func (b *Bridge) PublishEvent(workflowID string, event any) error {
	return b.PublishJSON(EventSubject(workflowID), event)
}

// PublishJSON publishes a JSON-encoded payload on subject.
func (b *Bridge) PublishJSON(subject string, payload any) error {
	if b == nil || b.nc == nil {
		return errNilBridge
	}
	if subject == "" {
		return errEmptySubject
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.nc.Publish(subject, data)
}

// Subscribe attaches a handler for raw payloads on subject. A non-empty
// queue joins a queue group so horizontally scaled consumers share load.
func (b *Bridge) Subscribe(subject, queue string, handler func(data []byte)) error {
	if b == nil || b.nc == nil {
		return errNilBridge
	}
	if subject == "" {
		return errEmptySubject
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	cb := func(msg *nats.Msg) {
		handler(msg.Data)
	}
	if queue == "" {
		_, err := b.nc.Subscribe(subject, cb)
		return err
	}
	_, err := b.nc.QueueSubscribe(subject, queue, cb)
	return err
}

func (b *Bridge) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *Bridge) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func (b *Bridge) ConnectedURL() string {
	if b == nil || b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}

func natsTLSConfigFromEnv() (*tls.Config, error) {
	caPath := strings.TrimSpace(os.Getenv(envTLSCA))
	certPath := strings.TrimSpace(os.Getenv(envTLSCert))
	keyPath := strings.TrimSpace(os.Getenv(envTLSKey))
	insecure := boolEnv(envTLSInsecure)

	if caPath == "" && certPath == "" && keyPath == "" && !insecure {
		return nil, nil
	}

	cfg := &tls.Config{}
	if insecure {
		cfg.InsecureSkipVerify = true
	}
	if caPath != "" {
		pem, err := os.ReadFile(caPath) // #nosec G304 -- operator-supplied CA path
		if err != nil {
			return nil, fmt.Errorf("nats tls ca read: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("nats tls ca parse: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, fmt.Errorf("nats tls cert and key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("nats tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
