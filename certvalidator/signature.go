package certvalidator

import (
	"crypto/x509"
	"time"
)

// AdvancedSignature is the format independent view of a signature the
// evidence engine works with. Container specific parsing happens elsewhere.
type AdvancedSignature interface {
	// ID identifies the signature within its document.
	ID() string
	// SigningCertificateCandidates returns the certificates that may have
	// produced the signature, most likely first.
	SigningCertificateCandidates() []*x509.Certificate
	// Certificates returns every certificate embedded in the signature.
	Certificates() []*x509.Certificate
	// EmbeddedRevocationSource returns the CRL/OCSP evidence shipped with the
	// signature. It may be nil.
	EmbeddedRevocationSource() RevocationSource
	// EmbeddedTimestamps returns the timestamps attached to the signature.
	EmbeddedTimestamps() []*TimestampToken
	// SigningTime returns the claimed signing time, if present.
	SigningTime() (time.Time, bool)
}
