package validation

import (
	"context"
	"crypto"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
	"github.com/georgepadayatti/sigvalidate/certvalidator/revinfo"
	"github.com/georgepadayatti/sigvalidate/internal/testpki"
)

type testSignature struct {
	id          string
	signer      *x509.Certificate
	certs       []*x509.Certificate
	revs        certvalidator.RevocationSource
	timestamps  []*certvalidator.TimestampToken
	signingTime time.Time

	hints          string
	commitments    []string
	location       string
	claimedRoles   []string
	certifiedRoles []string
	digest         crypto.Hash
	enc            string
	keySize        int
	intact         bool
}

func (s *testSignature) ID() string { return s.id }
func (s *testSignature) SigningCertificateCandidates() []*x509.Certificate {
	if s.signer == nil {
		return nil
	}
	return []*x509.Certificate{s.signer}
}
func (s *testSignature) Certificates() []*x509.Certificate { return s.certs }
func (s *testSignature) EmbeddedRevocationSource() certvalidator.RevocationSource {
	return s.revs
}
func (s *testSignature) EmbeddedTimestamps() []*certvalidator.TimestampToken { return s.timestamps }
func (s *testSignature) SigningTime() (time.Time, bool) {
	return s.signingTime, !s.signingTime.IsZero()
}
func (s *testSignature) ContentHints() string         { return s.hints }
func (s *testSignature) CommitmentTypes() []string    { return s.commitments }
func (s *testSignature) SignerLocation() string       { return s.location }
func (s *testSignature) ClaimedRoles() []string       { return s.claimedRoles }
func (s *testSignature) CertifiedRoles() []string     { return s.certifiedRoles }
func (s *testSignature) DigestAlgorithm() crypto.Hash { return s.digest }
func (s *testSignature) EncryptionAlgorithm() string  { return s.enc }
func (s *testSignature) KeySize() int                 { return s.keySize }
func (s *testSignature) SignatureIntact() bool        { return s.intact }

// pki is a trusted root with a timestamping authority below it.
type pki struct {
	root     *testpki.Authority
	tsa      *testpki.Authority
	verifier certvalidator.CertificateVerifier
	now      time.Time
}

func newPKI(t *testing.T) *pki {
	t.Helper()
	root := testpki.NewRoot(t, "Test Root CA")
	trusted, err := certvalidator.NewTrustedPool([]*x509.Certificate{root.Cert})
	require.NoError(t, err)
	return &pki{
		root:     root,
		tsa:      root.NewLeaf(t, "Test TSA", testpki.WithValidity(time.Now().AddDate(0, -1, 0), time.Now().AddDate(1, 0, 0))),
		verifier: certvalidator.NewOfflineVerifier(trusted, nil),
		now:      time.Now().UTC().Truncate(time.Second),
	}
}

// crl returns an embedded revocation source with a CRL of the root that
// lists revoked. Revocation takes effect one minute before thisUpdate.
func (p *pki) crl(t *testing.T, thisUpdate time.Time, revoked ...*x509.Certificate) certvalidator.RevocationSource {
	t.Helper()
	src, err := revinfo.NewOfflineSource([][]byte{p.root.CRL(t, revoked, thisUpdate, thisUpdate.Add(2*time.Hour))}, nil)
	require.NoError(t, err)
	return src
}

// signature returns a well formed signature of leaf with good revocation
// data.
func (p *pki) signature(t *testing.T, id string, leaf *testpki.Authority, mods ...func(*testSignature)) *testSignature {
	t.Helper()
	sig := &testSignature{
		id:          id,
		signer:      leaf.Cert,
		certs:       []*x509.Certificate{leaf.Cert},
		revs:        p.crl(t, p.now.Add(-time.Minute)),
		signingTime: p.now.Add(-10 * time.Minute),
		digest:      crypto.SHA256,
		enc:         "ECDSA",
		keySize:     256,
		intact:      true,
	}
	for _, mod := range mods {
		mod(sig)
	}
	return sig
}

func (p *pki) timestamp(t *testing.T, id string, typ certvalidator.TimestampType, genTime time.Time, intact bool) *certvalidator.TimestampToken {
	t.Helper()
	return timestampBy(t, p.tsa, id, typ, genTime, intact)
}

// timestampBy issues a timestamp token signed by tsa.
func timestampBy(t *testing.T, tsa *testpki.Authority, id string, typ certvalidator.TimestampType, genTime time.Time, intact bool) *certvalidator.TimestampToken {
	t.Helper()
	covered := []byte("covered by " + id)
	imprint := testpki.Digest(covered)
	if !intact {
		imprint = testpki.Digest([]byte("something else"))
	}
	ts, err := certvalidator.NewTimestampToken(certvalidator.TimestampData{
		ID:                id,
		Type:              typ,
		GenTime:           genTime,
		HashAlgorithm:     crypto.SHA256,
		Imprint:           imprint,
		CoveredData:       covered,
		SignerCertificate: tsa.Cert,
		Certificates:      []*x509.Certificate{tsa.Cert},
	})
	require.NoError(t, err)
	return ts
}

// evidence runs a validation context over sig and freezes the result.
func (p *pki) evidence(t *testing.T, sig Signature) *Evidence {
	t.Helper()
	vc, err := certvalidator.NewValidationContext(certvalidator.NewCertificatePool(), p.verifier,
		certvalidator.WithValidationTime(p.now),
		certvalidator.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	require.NoError(t, vc.AddSignature(sig))
	require.NoError(t, vc.Validate(context.Background()))
	ev, err := NewEvidence(sig, vc.Snapshot())
	require.NoError(t, err)
	return ev
}

func withTimestamps(ts ...*certvalidator.TimestampToken) func(*testSignature) {
	return func(s *testSignature) { s.timestamps = append(s.timestamps, ts...) }
}

func findExplanation(t *testing.T, r *Result, name string) (status string, params map[string]string) {
	t.Helper()
	e, ok := r.Conclusion.Explanation(name)
	require.True(t, ok, "no %s explanation in %v", name, r.Conclusion.Explanations())
	params = make(map[string]string, len(e.Params))
	for _, p := range e.Params {
		params[p.Key] = p.Value
	}
	return string(e.Status), params
}
