package certvalidator

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"fmt"
	"time"
)

// TimestampType says what a timestamp covers.
type TimestampType int

const (
	TimestampContent TimestampType = iota
	TimestampSignature
	TimestampArchive
)

func (t TimestampType) String() string {
	switch t {
	case TimestampContent:
		return "content"
	case TimestampSignature:
		return "signature"
	case TimestampArchive:
		return "archive"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseTimestampType is the inverse of TimestampType.String.
func ParseTimestampType(s string) (TimestampType, error) {
	for t := TimestampContent; t <= TimestampArchive; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown timestamp type %q", s)
}

// ReferenceCategory classifies a timestamped reference.
type ReferenceCategory int

const (
	ReferenceSignature ReferenceCategory = iota
	ReferenceCertificate
	ReferenceRevocation
)

func (c ReferenceCategory) String() string {
	switch c {
	case ReferenceSignature:
		return "signature"
	case ReferenceCertificate:
		return "certificate"
	case ReferenceRevocation:
		return "revocation"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// TimestampedReference is one item covered by a timestamp.
type TimestampedReference struct {
	Category ReferenceCategory
	Digest   []byte
}

// TimestampData carries the fields of a timestamp token.
type TimestampData struct {
	ID            string
	Type          TimestampType
	GenTime       time.Time
	HashAlgorithm crypto.Hash
	Imprint       []byte
	// CoveredData is the material the imprint is declared over.
	CoveredData []byte
	// SignerCertificate is the TSA certificate. When nil, the first embedded
	// certificate is assumed to be the signer.
	SignerCertificate *x509.Certificate
	Certificates      []*x509.Certificate
	References        []TimestampedReference
}

// TimestampToken is immutable evidence binding a time to a digest.
type TimestampToken struct {
	d TimestampData
}

// NewTimestampToken validates and freezes d.
func NewTimestampToken(d TimestampData) (*TimestampToken, error) {
	if d.GenTime.IsZero() {
		return nil, fmt.Errorf("%w: timestamp %q has no generation time", ErrMalformedTimestamp, d.ID)
	}
	if len(d.Imprint) == 0 {
		return nil, fmt.Errorf("%w: timestamp %q has no message imprint", ErrMalformedTimestamp, d.ID)
	}
	d.Imprint = append([]byte(nil), d.Imprint...)
	d.CoveredData = append([]byte(nil), d.CoveredData...)
	d.Certificates = append([]*x509.Certificate(nil), d.Certificates...)
	d.References = append([]TimestampedReference(nil), d.References...)
	return &TimestampToken{d: d}, nil
}

func (t *TimestampToken) ID() string { return t.d.ID }
func (t *TimestampToken) Type() TimestampType { return t.d.Type }
func (t *TimestampToken) GenTime() time.Time { return t.d.GenTime }
func (t *TimestampToken) HashAlgorithm() crypto.Hash { return t.d.HashAlgorithm }
func (t *TimestampToken) Imprint() []byte { return append([]byte(nil), t.d.Imprint...) }
func (t *TimestampToken) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), t.d.Certificates...)
}
func (t *TimestampToken) References() []TimestampedReference {
	return append([]TimestampedReference(nil), t.d.References...)
}

// SignerCertificate returns the TSA certificate, or nil when the token
// carries none.
func (t *TimestampToken) SignerCertificate() *x509.Certificate {
	if t.d.SignerCertificate != nil {
		return t.d.SignerCertificate
	}
	if len(t.d.Certificates) > 0 {
		return t.d.Certificates[0]
	}
	return nil
}

// VerifyImprint recomputes the digest of the covered data and compares it
// with the declared imprint.
func (t *TimestampToken) VerifyImprint() bool {
	if !t.d.HashAlgorithm.Available() {
		return false
	}
	h := t.d.HashAlgorithm.New()
	h.Write(t.d.CoveredData)
	return bytes.Equal(h.Sum(nil), t.d.Imprint)
}

// Covers reports whether the token lists a reference of the given category
// and digest.
func (t *TimestampToken) Covers(category ReferenceCategory, digest []byte) bool {
	for _, ref := range t.d.References {
		if ref.Category == category && bytes.Equal(ref.Digest, digest) {
			return true
		}
	}
	return false
}

// TimestampStatus is the outcome of processing a timestamp during a run.
type TimestampStatus struct {
	Token        *TimestampToken
	ImprintValid bool
	// Signer is the pool token of the TSA certificate, nil when unknown.
	Signer *CertificateToken
}
