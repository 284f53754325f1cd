// Package testpki builds throwaway certificate hierarchies and revocation
// data for tests.
package testpki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"
)

var serial atomic.Int64

// Authority is a certificate together with its private key.
type Authority struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// Option modifies a certificate template before it is signed.
type Option func(*x509.Certificate)

// WithValidity sets the validity window.
func WithValidity(notBefore, notAfter time.Time) Option {
	return func(c *x509.Certificate) {
		c.NotBefore = notBefore
		c.NotAfter = notAfter
	}
}

// WithIssuingCertificateURL sets the AIA caIssuers location.
func WithIssuingCertificateURL(url string) Option {
	return func(c *x509.Certificate) { c.IssuingCertificateURL = []string{url} }
}

// WithOCSPServer sets the AIA OCSP location.
func WithOCSPServer(url string) Option {
	return func(c *x509.Certificate) { c.OCSPServer = []string{url} }
}

// WithCRLDistributionPoint sets the CRL distribution point.
func WithCRLDistributionPoint(url string) Option {
	return func(c *x509.Certificate) { c.CRLDistributionPoints = []string{url} }
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func keyID(pub *ecdsa.PublicKey) []byte {
	raw, _ := pub.ECDH()
	sum := sha1.Sum(raw.Bytes())
	return sum[:]
}

func template(cn string, pub *ecdsa.PublicKey, ca bool) *x509.Certificate {
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1) + 1000),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Test Org"}, Country: []string{"EE"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		BasicConstraintsValid: true,
		SubjectKeyId:          keyID(pub),
	}
	if ca {
		tmpl.IsCA = true
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment
	}
	return tmpl
}

func sign(t testing.TB, tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// NewRoot creates a self-signed CA.
func NewRoot(t testing.TB, cn string, opts ...Option) *Authority {
	t.Helper()
	key := newKey(t)
	tmpl := template(cn, &key.PublicKey, true)
	for _, opt := range opts {
		opt(tmpl)
	}
	return &Authority{Cert: sign(t, tmpl, tmpl, &key.PublicKey, key), Key: key}
}

func (a *Authority) issue(t testing.TB, cn string, ca bool, opts []Option) *Authority {
	t.Helper()
	key := newKey(t)
	tmpl := template(cn, &key.PublicKey, ca)
	tmpl.AuthorityKeyId = a.Cert.SubjectKeyId
	for _, opt := range opts {
		opt(tmpl)
	}
	return &Authority{Cert: sign(t, tmpl, a.Cert, &key.PublicKey, a.Key), Key: key}
}

// NewIntermediate issues a CA certificate below a.
func (a *Authority) NewIntermediate(t testing.TB, cn string, opts ...Option) *Authority {
	t.Helper()
	return a.issue(t, cn, true, opts)
}

// NewLeaf issues an end-entity certificate below a.
func (a *Authority) NewLeaf(t testing.TB, cn string, opts ...Option) *Authority {
	t.Helper()
	return a.issue(t, cn, false, opts)
}

// CrossCertify issues a CA certificate for the name and key of subject,
// signed by a.
func (a *Authority) CrossCertify(t testing.TB, subject *Authority) *x509.Certificate {
	t.Helper()
	tmpl := template(subject.Cert.Subject.CommonName, &subject.Key.PublicKey, true)
	tmpl.Subject = subject.Cert.Subject
	tmpl.AuthorityKeyId = a.Cert.SubjectKeyId
	return sign(t, tmpl, a.Cert, &subject.Key.PublicKey, a.Key)
}

// OCSPResponse builds a DER OCSP response about cert signed by a.
func (a *Authority) OCSPResponse(t testing.TB, cert *x509.Certificate, status int, thisUpdate, nextUpdate time.Time) []byte {
	t.Helper()
	tmpl := ocsp.Response{
		Status:       status,
		SerialNumber: cert.SerialNumber,
		ThisUpdate:   thisUpdate,
		NextUpdate:   nextUpdate,
		ProducedAt:   thisUpdate,
	}
	if status == ocsp.Revoked {
		tmpl.RevokedAt = thisUpdate.Add(-time.Minute)
		tmpl.RevocationReason = ocsp.KeyCompromise
	}
	der, err := ocsp.CreateResponse(a.Cert, a.Cert, tmpl, a.Key)
	require.NoError(t, err)
	return der
}

// CRL builds a DER CRL issued by a listing revoked.
func (a *Authority) CRL(t testing.TB, revoked []*x509.Certificate, thisUpdate, nextUpdate time.Time) []byte {
	t.Helper()
	var entries []x509.RevocationListEntry
	for _, c := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   c.SerialNumber,
			RevocationTime: thisUpdate.Add(-time.Minute),
			ReasonCode:     1,
		})
	}
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(serial.Add(1)),
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: entries,
	}, a.Cert, a.Key)
	require.NoError(t, err)
	return der
}

// Digest hashes data with SHA-256.
func Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// WritePEM stores the certificate as PEM in dir and returns the path.
func (a *Authority) WritePEM(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.Cert.Raw})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}
