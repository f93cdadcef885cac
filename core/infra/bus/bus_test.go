package bus

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestEventSubjects(t *testing.T) {
	if got := EventSubject("wf-1"); got != "workflow.events.wf-1" {
		t.Fatalf("unexpected event subject: %s", got)
	}
	if got := WildcardSubject(); got != "workflow.events.>" {
		t.Fatalf("unexpected wildcard subject: %s", got)
	}
}

func TestPublishGuards(t *testing.T) {
	var nilBridge *Bridge
	if err := nilBridge.PublishEvent("wf-1", map[string]string{"type": "started"}); !errors.Is(err, errNilBridge) {
		t.Fatalf("expected nil bridge error, got %v", err)
	}
	bridge := &Bridge{nc: &nats.Conn{}}
	if err := bridge.PublishJSON("", map[string]string{}); !errors.Is(err, errEmptySubject) {
		t.Fatalf("expected empty subject error, got %v", err)
	}
	if err := bridge.PublishJSON("workflow.events.x", make(chan int)); err == nil {
		t.Fatalf("expected marshal error for unencodable payload")
	}
}

func TestSubscribeGuards(t *testing.T) {
	var nilBridge *Bridge
	if err := nilBridge.Subscribe("workflow.events.>", "", func([]byte) {}); !errors.Is(err, errNilBridge) {
		t.Fatalf("expected nil bridge error, got %v", err)
	}
	bridge := &Bridge{nc: &nats.Conn{}}
	if err := bridge.Subscribe("", "", func([]byte) {}); !errors.Is(err, errEmptySubject) {
		t.Fatalf("expected empty subject error, got %v", err)
	}
	if err := bridge.Subscribe("workflow.events.>", "", nil); err == nil {
		t.Fatalf("expected nil handler error")
	}
}

func TestStatusDefaults(t *testing.T) {
	var nilBridge *Bridge
	if nilBridge.IsConnected() {
		t.Fatalf("expected disconnected nil bridge")
	}
	if status := nilBridge.Status(); status != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN status, got %s", status)
	}
	if url := nilBridge.ConnectedURL(); url != "" {
		t.Fatalf("expected empty url, got %s", url)
	}
	nilBridge.Close()
}

func TestNATSTLSConfigFromEnvNone(t *testing.T) {
	clearTLSEnv(t)
	cfg, err := natsTLSConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config")
	}
}

func TestNATSTLSConfigFromEnvInsecure(t *testing.T) {
	clearTLSEnv(t)
	t.Setenv(envTLSInsecure, "true")
	cfg, err := natsTLSConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil || !cfg.InsecureSkipVerify {
		t.Fatalf("expected insecure TLS config")
	}
}

func TestNATSTLSConfigFromEnvWithCAAndCert(t *testing.T) {
	clearTLSEnv(t)
	certPath, keyPath := writeTempCert(t)
	t.Setenv(envTLSCA, certPath)
	t.Setenv(envTLSCert, certPath)
	t.Setenv(envTLSKey, keyPath)

	cfg, err := natsTLSConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil || cfg.RootCAs == nil {
		t.Fatalf("expected root CAs set")
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected client certificate")
	}
}

func TestNATSTLSConfigFromEnvMissingKey(t *testing.T) {
	clearTLSEnv(t)
	certPath, _ := writeTempCert(t)
	t.Setenv(envTLSCert, certPath)

	if _, err := natsTLSConfigFromEnv(); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func clearTLSEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envTLSCA, envTLSCert, envTLSKey, envTLSInsecure} {
		t.Setenv(key, "")
	}
}

func writeTempCert(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	dir := t.TempDir()
	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certPath, keyPath
}
