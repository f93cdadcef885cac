package redisutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestConnectAgainstMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	if _, err := Connect(context.Background(), "not-a-url"); err == nil {
		t.Fatalf("expected error for malformed url")
	}
}

func TestConnectFailsFastWhenUnreachable(t *testing.T) {
	// Port 1 is reserved and should refuse immediately.
	start := time.Now()
	_, err := Connect(context.Background(), "redis://127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("connect took too long: %s", elapsed)
	}
}

func TestNewClientNoTLSByDefault(t *testing.T) {
	clearTLSEnv(t)
	client, err := NewClient("redis://localhost:6379")
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	_ = client.Close()
}

func TestTLSFromEnvInsecure(t *testing.T) {
	clearTLSEnv(t)
	t.Setenv(envTLSInsecure, "true")

	cfg, err := tlsFromEnv(nil)
	if err != nil {
		t.Fatalf("tlsFromEnv error: %v", err)
	}
	if cfg == nil || !cfg.InsecureSkipVerify {
		t.Fatalf("expected insecure TLS config, got %+v", cfg)
	}
}

func TestTLSFromEnvCAAndKeypair(t *testing.T) {
	clearTLSEnv(t)
	certPath, keyPath := writeTempCert(t)
	t.Setenv(envTLSCA, certPath)
	t.Setenv(envTLSCert, certPath)
	t.Setenv(envTLSKey, keyPath)

	cfg, err := tlsFromEnv(nil)
	if err != nil {
		t.Fatalf("tlsFromEnv error: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatalf("expected root CA pool")
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected client certificate")
	}
}

func TestTLSFromEnvCertWithoutKey(t *testing.T) {
	clearTLSEnv(t)
	certPath, _ := writeTempCert(t)
	t.Setenv(envTLSCert, certPath)

	if _, err := tlsFromEnv(nil); err == nil {
		t.Fatalf("expected error for cert without key")
	}
}

func TestTLSFromEnvPassesThroughUntouched(t *testing.T) {
	clearTLSEnv(t)
	cfg, err := tlsFromEnv(nil)
	if err != nil {
		t.Fatalf("tlsFromEnv error: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config with no TLS env, got %+v", cfg)
	}
}

func clearTLSEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envTLSCA, envTLSCert, envTLSKey, envTLSInsecure, envTLSServerName, envClusterAddrs} {
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
