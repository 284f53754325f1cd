package certvalidator

import (
	"errors"
	"fmt"
	"testing"
)

func TestRevocationReasonString(t *testing.T) {
	tests := []struct {
		reason   RevocationReason
		expected string
	}{
		{ReasonUnspecified, "unspecified"},
		{ReasonKeyCompromise, "keyCompromise"},
		{ReasonCACompromise, "cACompromise"},
		{ReasonAffiliationChanged, "affiliationChanged"},
		{ReasonSuperseded, "superseded"},
		{ReasonCessationOfOperation, "cessationOfOperation"},
		{ReasonCertificateHold, "certificateHold"},
		{ReasonRemoveFromCRL, "removeFromCRL"},
		{ReasonPrivilegeWithdrawn, "privilegeWithdrawn"},
		{ReasonAACompromise, "aACompromise"},
		{RevocationReason(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.reason.String(); got != tt.expected {
				t.Errorf("RevocationReason.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCertificateFetchError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &CertificateFetchError{URL: "http://aia.example.test/ca.crt", Err: cause}
	want := "fetching certificate from http://aia.example.test/ca.crt: connection refused"
	if err.Error() != want {
		t.Errorf("CertificateFetchError.Error() = %v, want %v", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("CertificateFetchError should unwrap to its cause")
	}
}

func TestRevocationFetchError(t *testing.T) {
	cause := errors.New("timeout")
	err := &RevocationFetchError{Kind: RevocationOCSP, URL: "http://ocsp.example.test", Err: cause}
	want := "fetching OCSP from http://ocsp.example.test: timeout"
	if err.Error() != want {
		t.Errorf("RevocationFetchError.Error() = %v, want %v", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("RevocationFetchError should unwrap to its cause")
	}
}

func TestIsEvidenceGap(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"structural", ErrNilCertificate, false},
		{"certificate fetch", &CertificateFetchError{Err: errors.New("x")}, true},
		{"revocation fetch", &RevocationFetchError{Err: errors.New("x")}, true},
		{"wrapped", fmt.Errorf("issuer: %w", &CertificateFetchError{Err: errors.New("x")}), true},
		{"joined", errors.Join(ErrNilArgument, &RevocationFetchError{Err: errors.New("x")}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEvidenceGap(tt.err); got != tt.want {
				t.Errorf("IsEvidenceGap() = %v, want %v", got, tt.want)
			}
		})
	}
}
