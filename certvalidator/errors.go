package certvalidator

import (
	"errors"
	"fmt"
)

// Structural errors. These abort the current operation and are returned to
// the caller; missing evidence is never reported through them.
var (
	ErrNilCertificate     = errors.New("nil certificate")
	ErrNilSignature       = errors.New("nil signature")
	ErrNilArgument        = errors.New("nil argument")
	ErrMalformedIdentity  = errors.New("malformed certificate identity")
	ErrMalformedTimestamp = errors.New("malformed timestamp token")
	ErrAlreadyValidated   = errors.New("validation context already ran")
)

// CertificateFetchError occurs when an issuer certificate cannot be fetched.
type CertificateFetchError struct {
	URL string
	Err error
}

func (e *CertificateFetchError) Error() string {
	return fmt.Sprintf("fetching certificate from %s: %v", e.URL, e.Err)
}

func (e *CertificateFetchError) Unwrap() error {
	return e.Err
}

// RevocationFetchError occurs when CRL or OCSP evidence cannot be obtained.
type RevocationFetchError struct {
	Kind RevocationKind
	URL  string
	Err  error
}

func (e *RevocationFetchError) Error() string {
	return fmt.Sprintf("fetching %s from %s: %v", e.Kind, e.URL, e.Err)
}

func (e *RevocationFetchError) Unwrap() error {
	return e.Err
}

// IsEvidenceGap reports whether err merely signals missing evidence.
func IsEvidenceGap(err error) bool {
	var certErr *CertificateFetchError
	var revErr *RevocationFetchError
	return errors.As(err, &certErr) || errors.As(err, &revErr)
}
