package fetchers

import (
	"context"
	"crypto/x509"
	"errors"

	"go.uber.org/zap"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
)

// OnlineVerifier is a certvalidator.CertificateVerifier that complements
// local trust sources with AIA, OCSP and CRL lookups.
type OnlineVerifier struct {
	trusted certvalidator.CertificateSource
	adjunct certvalidator.CertificateSource
	fetcher *Fetcher
}

var _ certvalidator.CertificateVerifier = (*OnlineVerifier)(nil)

// NewOnlineVerifier creates a verifier that uses fetcher for network
// access.
func NewOnlineVerifier(trusted, adjunct certvalidator.CertificateSource, fetcher *Fetcher) *OnlineVerifier {
	return &OnlineVerifier{trusted: trusted, adjunct: adjunct, fetcher: fetcher}
}

func (v *OnlineVerifier) TrustedSource() certvalidator.CertificateSource { return v.trusted }

func (v *OnlineVerifier) AdjunctSource() certvalidator.CertificateSource { return v.adjunct }

// FetchIssuer downloads the certificates referenced by the caIssuers
// entries of the token's AIA extension. An error is returned only when
// nothing could be fetched.
func (v *OnlineVerifier) FetchIssuer(ctx context.Context, tok *certvalidator.CertificateToken) ([]*x509.Certificate, error) {
	urls := tok.Certificate().IssuingCertificateURL
	if len(urls) == 0 {
		return nil, nil
	}
	var out []*x509.Certificate
	var errs []error
	for _, u := range urls {
		certs, err := v.fetcher.FetchCertificates(ctx, u)
		if err != nil {
			errs = append(errs, &certvalidator.CertificateFetchError{URL: u, Err: err})
			continue
		}
		out = append(out, certs...)
	}
	if len(out) > 0 {
		return out, nil
	}
	return nil, errors.Join(errs...)
}

// FetchRevocation asks the OCSP responders of tok first and falls back to
// its CRL distribution points. The first answer whose signature verifies
// against issuer wins; answers that do not verify are returned only when
// nothing better was found.
func (v *OnlineVerifier) FetchRevocation(ctx context.Context, tok, issuer *certvalidator.CertificateToken) ([]*certvalidator.RevocationToken, error) {
	if tok == nil || issuer == nil {
		return nil, nil
	}
	cert := tok.Certificate()
	var errs []error
	var unverified []*certvalidator.RevocationToken

	for _, u := range cert.OCSPServer {
		info, err := v.fetcher.FetchOCSP(ctx, u, cert, issuer.Certificate())
		if err != nil {
			errs = append(errs, &certvalidator.RevocationFetchError{Kind: certvalidator.RevocationOCSP, URL: u, Err: err})
			continue
		}
		if rt := info.Token(tok, issuer, certvalidator.OriginOnline); rt != nil {
			if rt.IsSignatureValid() {
				return []*certvalidator.RevocationToken{rt}, nil
			}
			unverified = append(unverified, rt)
		}
	}
	for _, u := range cert.CRLDistributionPoints {
		info, err := v.fetcher.FetchCRL(ctx, u)
		if err != nil {
			errs = append(errs, &certvalidator.RevocationFetchError{Kind: certvalidator.RevocationCRL, URL: u, Err: err})
			continue
		}
		if rt := info.Token(tok, issuer, certvalidator.OriginOnline); rt != nil {
			if rt.IsSignatureValid() {
				return []*certvalidator.RevocationToken{rt}, nil
			}
			unverified = append(unverified, rt)
		}
	}
	if len(errs) > 0 || len(unverified) > 0 {
		v.fetcher.logger.Debug("No online revocation data",
			zap.Stringer("certificate", tok.Identity()), zap.Int("failures", len(errs)),
			zap.Int("unverified", len(unverified)))
	}
	return unverified, errors.Join(errs...)
}
