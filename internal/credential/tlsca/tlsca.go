package tlsca

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/agentbox/internal/conventions"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
)

// IssuerConfig is the configuration for the TLS CA credential issuer.
type IssuerConfig struct {
	// DataDir is the agentbox data directory where credentials are written.
	DataDir string
	// MaxTTL caps credential lifetime. Defaults to 1 hour.
	MaxTTL time.Duration
	Logger log.Logger
}

func (c *IssuerConfig) defaults() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = 1 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "credential.TLSCA"})
	return nil
}

// Issuer is a credential.Issuer backed by an in-process ephemeral CA. It
// issues short-lived Ed25519 TLS client certificates, one per sandbox, and
// writes them PEM-encoded under the sandbox directory.
type Issuer struct {
	caCert *x509.Certificate
	caKey  ed25519.PrivateKey

	dataDir string
	maxTTL  time.Duration
	logger  log.Logger

	mu     sync.Mutex
	issued map[string]model.Credential // By credential ID.
}

// NewIssuer creates a new TLS CA issuer with a freshly generated CA.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	caCert, caKey, err := newCA()
	if err != nil {
		return nil, fmt.Errorf("could not create CA: %w", err)
	}

	return &Issuer{
		caCert:  caCert,
		caKey:   caKey,
		dataDir: cfg.DataDir,
		maxTTL:  cfg.MaxTTL,
		logger:  cfg.Logger,
		issued:  map[string]model.Credential{},
	}, nil
}

func newCA() (*x509.Certificate, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("could not generate ed25519 key: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "agentbox-ca"},
		NotBefore:             time.Now().Add(-1 * time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create CA certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse CA certificate: %w", err)
	}

	return cert, priv, nil
}

// Issue creates a TLS client credential for a sandbox.
func (i *Issuer) Issue(ctx context.Context, sandboxID string) (*model.Credential, error) {
	if sandboxID == "" {
		return nil, fmt.Errorf("sandbox ID is required: %w", model.ErrNotValid)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("could not generate client key: %w", err)
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	expiresAt := time.Now().Add(i.maxTTL)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("could not generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: fmt.Sprintf("agentbox-sandbox-%s", sandboxID)},
		NotBefore:    time.Now().Add(-1 * time.Minute),
		NotAfter:     expiresAt,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, i.caCert, pub, i.caKey)
	if err != nil {
		return nil, fmt.Errorf("could not create client certificate: %w", err)
	}

	sandboxDir := conventions.SandboxDir(i.dataDir, sandboxID)
	if err := os.MkdirAll(sandboxDir, 0700); err != nil {
		return nil, fmt.Errorf("could not create sandbox directory: %w", err)
	}

	certPath := conventions.CredentialCertPath(i.dataDir, sandboxID)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certPath, certPEM, 0600); err != nil {
		return nil, fmt.Errorf("could not write certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("could not marshal client key: %w", err)
	}
	keyPath := conventions.CredentialKeyPath(i.dataDir, sandboxID)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		_ = os.Remove(certPath)
		return nil, fmt.Errorf("could not write client key: %w", err)
	}

	cred := model.Credential{
		ID:        id,
		SandboxID: sandboxID,
		CertPath:  certPath,
		KeyPath:   keyPath,
		ExpiresAt: expiresAt,
	}

	i.mu.Lock()
	i.issued[id] = cred
	i.mu.Unlock()

	i.logger.Debugf("issued credential %s for sandbox %s (expires %s)", id, sandboxID, expiresAt.Format(time.RFC3339))

	return &cred, nil
}

// Revoke removes a credential's key material. Idempotent.
func (i *Issuer) Revoke(ctx context.Context, cred model.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	for _, path := range []string{cred.CertPath, cred.KeyPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("could not remove %s: %w", path, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	i.mu.Lock()
	delete(i.issued, cred.ID)
	i.mu.Unlock()

	i.logger.Debugf("revoked credential %s for sandbox %s", cred.ID, cred.SandboxID)

	return nil
}

// LiveCredentials returns issued, unrevoked credentials.
func (i *Issuer) LiveCredentials(ctx context.Context) ([]model.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	creds := make([]model.Credential, 0, len(i.issued))
	for _, c := range i.issued {
		creds = append(creds, c)
	}
	return creds, nil
}
