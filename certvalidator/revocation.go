package certvalidator

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"
)

// RevocationKind distinguishes CRL from OCSP evidence.
type RevocationKind int

const (
	RevocationCRL RevocationKind = iota
	RevocationOCSP
)

func (k RevocationKind) String() string {
	if k == RevocationOCSP {
		return "OCSP"
	}
	return "CRL"
}

// RevocationStatus is the status a revocation token asserts.
type RevocationStatus int

const (
	StatusUnknown RevocationStatus = iota
	StatusGood
	StatusRevoked
)

func (s RevocationStatus) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// RevocationReason is the RFC 5280 reason code.
type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = 0
	ReasonKeyCompromise        RevocationReason = 1
	ReasonCACompromise         RevocationReason = 2
	ReasonAffiliationChanged   RevocationReason = 3
	ReasonSuperseded           RevocationReason = 4
	ReasonCessationOfOperation RevocationReason = 5
	ReasonCertificateHold      RevocationReason = 6
	ReasonRemoveFromCRL        RevocationReason = 8
	ReasonPrivilegeWithdrawn   RevocationReason = 9
	ReasonAACompromise         RevocationReason = 10
)

func (r RevocationReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonKeyCompromise:
		return "keyCompromise"
	case ReasonCACompromise:
		return "cACompromise"
	case ReasonAffiliationChanged:
		return "affiliationChanged"
	case ReasonSuperseded:
		return "superseded"
	case ReasonCessationOfOperation:
		return "cessationOfOperation"
	case ReasonCertificateHold:
		return "certificateHold"
	case ReasonRemoveFromCRL:
		return "removeFromCRL"
	case ReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ReasonAACompromise:
		return "aACompromise"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// RevocationOrigin records whether evidence came with the signature or was
// fetched during validation.
type RevocationOrigin int

const (
	OriginEmbedded RevocationOrigin = iota
	OriginOnline
)

func (o RevocationOrigin) String() string {
	if o == OriginOnline {
		return "online"
	}
	return "embedded"
}

// RevocationData carries the fields of a revocation token.
type RevocationData struct {
	Kind           RevocationKind
	Status         RevocationStatus
	Reason         RevocationReason
	RevocationDate time.Time
	// IssuanceDate is producedAt for OCSP and thisUpdate for CRLs.
	IssuanceDate time.Time
	ThisUpdate   time.Time
	NextUpdate   time.Time
	// Issuer is the identity of the CRL issuer or OCSP responder certificate.
	Issuer Identity
	// Subject is the identity of the certificate the evidence is about.
	Subject        Identity
	SignatureValid bool
	SourceURL      string
	Origin         RevocationOrigin
	// Certificates are signer certificates shipped with the evidence, such
	// as an OCSP responder certificate.
	Certificates []*x509.Certificate
	Raw          []byte
}

// RevocationToken is immutable CRL or OCSP derived evidence about one
// certificate.
type RevocationToken struct {
	d  RevocationData
	id string
}

// NewRevocationToken builds a token from d.
func NewRevocationToken(d RevocationData) *RevocationToken {
	d.Certificates = append([]*x509.Certificate(nil), d.Certificates...)
	d.Raw = append([]byte(nil), d.Raw...)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", d.Kind, d.Subject)
	h.Write(d.Raw)
	if len(d.Raw) == 0 {
		fmt.Fprintf(h, "%s|%d|%s", d.Status, d.ThisUpdate.UnixNano(), d.SourceURL)
	}
	return &RevocationToken{d: d, id: hex.EncodeToString(h.Sum(nil)[:12])}
}

// ID is a stable identifier of the token derived from its content.
func (r *RevocationToken) ID() string { return r.id }
func (r *RevocationToken) Kind() RevocationKind { return r.d.Kind }
func (r *RevocationToken) Status() RevocationStatus { return r.d.Status }
func (r *RevocationToken) Reason() RevocationReason { return r.d.Reason }
func (r *RevocationToken) RevocationDate() time.Time { return r.d.RevocationDate }
func (r *RevocationToken) IssuanceDate() time.Time { return r.d.IssuanceDate }
func (r *RevocationToken) ThisUpdate() time.Time { return r.d.ThisUpdate }
func (r *RevocationToken) NextUpdate() time.Time { return r.d.NextUpdate }
func (r *RevocationToken) Issuer() Identity { return r.d.Issuer }
func (r *RevocationToken) Subject() Identity { return r.d.Subject }
func (r *RevocationToken) IsSignatureValid() bool { return r.d.SignatureValid }
func (r *RevocationToken) SourceURL() string { return r.d.SourceURL }
func (r *RevocationToken) Origin() RevocationOrigin { return r.d.Origin }
func (r *RevocationToken) Raw() []byte { return append([]byte(nil), r.d.Raw...) }
func (r *RevocationToken) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), r.d.Certificates...)
}

// IsFreshAt reports whether the evidence is within its update window at t.
func (r *RevocationToken) IsFreshAt(t time.Time) bool {
	if t.Before(r.d.ThisUpdate) {
		return false
	}
	if !r.d.NextUpdate.IsZero() && t.After(r.d.NextUpdate) {
		return false
	}
	return true
}

// IsRevokedAt reports whether the token asserts revocation effective at t.
func (r *RevocationToken) IsRevokedAt(t time.Time) bool {
	return r.d.Status == StatusRevoked && !t.Before(r.d.RevocationDate)
}

func (r *RevocationToken) String() string {
	return fmt.Sprintf("%s %s (%s, issued %s)", r.d.Kind, r.d.Status, r.d.Origin,
		r.d.IssuanceDate.UTC().Format(time.RFC3339))
}

// RevocationSource yields revocation evidence for a certificate, for
// instance the CRLs and OCSP responses embedded in a signature.
type RevocationSource interface {
	Revocations(cert, issuer *CertificateToken) []*RevocationToken
}
