package tlsca_test

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/credential/tlsca"
	"github.com/slok/agentbox/internal/model"
)

func TestIssuerIssue(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	issuer, err := tlsca.NewIssuer(tlsca.IssuerConfig{DataDir: t.TempDir(), MaxTTL: 15 * time.Minute})
	require.NoError(err)

	cred, err := issuer.Issue(context.Background(), "SBX0123456789ABCDEFGHIJKLMN")
	require.NoError(err)

	assert.NotEmpty(cred.ID)
	assert.Equal("SBX0123456789ABCDEFGHIJKLMN", cred.SandboxID)
	assert.WithinDuration(time.Now().Add(15*time.Minute), cred.ExpiresAt, 5*time.Second)

	// The certificate must be valid PEM, bound to the sandbox and expire
	// within the configured TTL.
	certPEM, err := os.ReadFile(cred.CertPath)
	require.NoError(err)
	block, _ := pem.Decode(certPEM)
	require.NotNil(block)
	require.Equal("CERTIFICATE", block.Type)

	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(err)
	assert.Equal("agentbox-sandbox-SBX0123456789ABCDEFGHIJKLMN", cert.Subject.CommonName)
	assert.Contains(cert.ExtKeyUsage, x509.ExtKeyUsageClientAuth)
	assert.WithinDuration(cred.ExpiresAt, cert.NotAfter, time.Second)

	// The key must be parseable PKCS8.
	keyPEM, err := os.ReadFile(cred.KeyPath)
	require.NoError(err)
	block, _ = pem.Decode(keyPEM)
	require.NotNil(block)
	require.Equal("PRIVATE KEY", block.Type)
	_, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	assert.NoError(err)
}

func TestIssuerIssueInvalid(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	issuer, err := tlsca.NewIssuer(tlsca.IssuerConfig{DataDir: t.TempDir()})
	require.NoError(err)

	_, err = issuer.Issue(context.Background(), "")
	assert.ErrorIs(err, model.ErrNotValid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = issuer.Issue(ctx, "sbx-1")
	assert.ErrorIs(err, context.Canceled)
}

func TestIssuerRevoke(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	issuer, err := tlsca.NewIssuer(tlsca.IssuerConfig{DataDir: t.TempDir()})
	require.NoError(err)

	ctx := context.Background()
	cred, err := issuer.Issue(ctx, "sbx-1")
	require.NoError(err)

	require.NoError(issuer.Revoke(ctx, *cred))

	// Key material is gone.
	_, err = os.Stat(cred.CertPath)
	assert.True(os.IsNotExist(err))
	_, err = os.Stat(cred.KeyPath)
	assert.True(os.IsNotExist(err))

	// Revoking again is a no-op.
	assert.NoError(issuer.Revoke(ctx, *cred))
}

func TestIssuerLiveCredentials(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	issuer, err := tlsca.NewIssuer(tlsca.IssuerConfig{DataDir: t.TempDir()})
	require.NoError(err)

	ctx := context.Background()
	live, err := issuer.LiveCredentials(ctx)
	require.NoError(err)
	assert.Empty(live)

	first, err := issuer.Issue(ctx, "sbx-1")
	require.NoError(err)
	second, err := issuer.Issue(ctx, "sbx-2")
	require.NoError(err)

	live, err = issuer.LiveCredentials(ctx)
	require.NoError(err)
	assert.Len(live, 2)

	require.NoError(issuer.Revoke(ctx, *first))
	live, err = issuer.LiveCredentials(ctx)
	require.NoError(err)
	require.Len(live, 1)
	assert.Equal(second.ID, live[0].ID)
}
