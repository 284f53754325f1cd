package certvalidator

import (
	"context"
	"crypto/x509"
)

// CertificateVerifier supplies the trust model and the external evidence a
// ValidationContext cannot find in the signature itself.
type CertificateVerifier interface {
	// TrustedSource returns the trust anchors. It may be nil.
	TrustedSource() CertificateSource
	// AdjunctSource returns untrusted helper certificates. It may be nil.
	AdjunctSource() CertificateSource
	// FetchIssuer retrieves issuer candidates for token, typically through
	// the Authority Information Access extension.
	FetchIssuer(ctx context.Context, token *CertificateToken) ([]*x509.Certificate, error)
	// FetchRevocation retrieves revocation evidence for token.
	FetchRevocation(ctx context.Context, token, issuer *CertificateToken) ([]*RevocationToken, error)
}

// OfflineVerifier is a CertificateVerifier backed only by local sources.
type OfflineVerifier struct {
	trusted CertificateSource
	adjunct CertificateSource
}

// NewOfflineVerifier creates a verifier that never goes to the network.
func NewOfflineVerifier(trusted, adjunct CertificateSource) *OfflineVerifier {
	return &OfflineVerifier{trusted: trusted, adjunct: adjunct}
}

func (v *OfflineVerifier) TrustedSource() CertificateSource { return v.trusted }

func (v *OfflineVerifier) AdjunctSource() CertificateSource { return v.adjunct }

func (v *OfflineVerifier) FetchIssuer(context.Context, *CertificateToken) ([]*x509.Certificate, error) {
	return nil, nil
}

func (v *OfflineVerifier) FetchRevocation(context.Context, *CertificateToken, *CertificateToken) ([]*RevocationToken, error) {
	return nil, nil
}
