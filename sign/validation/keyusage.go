package validation

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKeyUsage is returned for unrecognised key usage names.
var ErrUnknownKeyUsage = errors.New("unknown key usage")

// OIDExtKeyUsageDocumentSigning is id-kp-documentSigning from RFC 9336.
var OIDExtKeyUsageDocumentSigning = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 36}

// KeyUsage represents a key usage bit.
type KeyUsage string

const (
	KeyUsageDigitalSignature  KeyUsage = "digital_signature"
	KeyUsageContentCommitment KeyUsage = "content_commitment" // aka non_repudiation
	KeyUsageKeyEncipherment   KeyUsage = "key_encipherment"
	KeyUsageDataEncipherment  KeyUsage = "data_encipherment"
	KeyUsageKeyAgreement      KeyUsage = "key_agreement"
	KeyUsageKeyCertSign       KeyUsage = "key_cert_sign"
	KeyUsageCRLSign           KeyUsage = "crl_sign"
	KeyUsageEncipherOnly      KeyUsage = "encipher_only"
	KeyUsageDecipherOnly      KeyUsage = "decipher_only"
)

// ExtKeyUsage represents an extended key usage purpose.
type ExtKeyUsage string

const (
	ExtKeyUsageAny             ExtKeyUsage = "any_extended_key_usage"
	ExtKeyUsageServerAuth      ExtKeyUsage = "server_auth"
	ExtKeyUsageClientAuth      ExtKeyUsage = "client_auth"
	ExtKeyUsageCodeSigning     ExtKeyUsage = "code_signing"
	ExtKeyUsageEmailProtection ExtKeyUsage = "email_protection"
	ExtKeyUsageTimeStamping    ExtKeyUsage = "time_stamping"
	ExtKeyUsageOCSPSigning     ExtKeyUsage = "ocsp_signing"
	ExtKeyUsageDocumentSigning ExtKeyUsage = "document_signing"
)

var keyUsageBits = []struct {
	bit   x509.KeyUsage
	usage KeyUsage
}{
	{x509.KeyUsageDigitalSignature, KeyUsageDigitalSignature},
	{x509.KeyUsageContentCommitment, KeyUsageContentCommitment},
	{x509.KeyUsageKeyEncipherment, KeyUsageKeyEncipherment},
	{x509.KeyUsageDataEncipherment, KeyUsageDataEncipherment},
	{x509.KeyUsageKeyAgreement, KeyUsageKeyAgreement},
	{x509.KeyUsageCertSign, KeyUsageKeyCertSign},
	{x509.KeyUsageCRLSign, KeyUsageCRLSign},
	{x509.KeyUsageEncipherOnly, KeyUsageEncipherOnly},
	{x509.KeyUsageDecipherOnly, KeyUsageDecipherOnly},
}

var extKeyUsages = map[x509.ExtKeyUsage]ExtKeyUsage{
	x509.ExtKeyUsageAny:             ExtKeyUsageAny,
	x509.ExtKeyUsageServerAuth:      ExtKeyUsageServerAuth,
	x509.ExtKeyUsageClientAuth:      ExtKeyUsageClientAuth,
	x509.ExtKeyUsageCodeSigning:     ExtKeyUsageCodeSigning,
	x509.ExtKeyUsageEmailProtection: ExtKeyUsageEmailProtection,
	x509.ExtKeyUsageTimeStamping:    ExtKeyUsageTimeStamping,
	x509.ExtKeyUsageOCSPSigning:     ExtKeyUsageOCSPSigning,
}

func normalizeUsage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}

// ParseKeyUsage parses a string to KeyUsage.
func ParseKeyUsage(s string) (KeyUsage, error) {
	switch normalizeUsage(s) {
	case "digital_signature", "digitalsignature":
		return KeyUsageDigitalSignature, nil
	case "content_commitment", "contentcommitment", "non_repudiation", "nonrepudiation":
		return KeyUsageContentCommitment, nil
	case "key_encipherment", "keyencipherment":
		return KeyUsageKeyEncipherment, nil
	case "data_encipherment", "dataencipherment":
		return KeyUsageDataEncipherment, nil
	case "key_agreement", "keyagreement":
		return KeyUsageKeyAgreement, nil
	case "key_cert_sign", "keycertsign":
		return KeyUsageKeyCertSign, nil
	case "crl_sign", "crlsign":
		return KeyUsageCRLSign, nil
	case "encipher_only", "encipheronly":
		return KeyUsageEncipherOnly, nil
	case "decipher_only", "decipheronly":
		return KeyUsageDecipherOnly, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKeyUsage, s)
	}
}

// ParseExtKeyUsage parses a string to ExtKeyUsage.
func ParseExtKeyUsage(s string) (ExtKeyUsage, error) {
	switch normalizeUsage(s) {
	case "any_extended_key_usage", "anyextendedkeyusage", "any":
		return ExtKeyUsageAny, nil
	case "server_auth", "serverauth":
		return ExtKeyUsageServerAuth, nil
	case "client_auth", "clientauth":
		return ExtKeyUsageClientAuth, nil
	case "code_signing", "codesigning":
		return ExtKeyUsageCodeSigning, nil
	case "email_protection", "emailprotection":
		return ExtKeyUsageEmailProtection, nil
	case "time_stamping", "timestamping":
		return ExtKeyUsageTimeStamping, nil
	case "ocsp_signing", "ocspsigning":
		return ExtKeyUsageOCSPSigning, nil
	case "document_signing", "documentsigning":
		return ExtKeyUsageDocumentSigning, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKeyUsage, s)
	}
}

// keyUsagesOf lists the key usage bits asserted by cert.
func keyUsagesOf(cert *x509.Certificate) []string {
	var out []string
	for _, b := range keyUsageBits {
		if cert.KeyUsage&b.bit != 0 {
			out = append(out, string(b.usage))
		}
	}
	return out
}

// extKeyUsagesOf lists the extended key usages of cert, including the
// document signing purpose Go does not know about.
func extKeyUsagesOf(cert *x509.Certificate) []string {
	var out []string
	for _, eku := range cert.ExtKeyUsage {
		if name, ok := extKeyUsages[eku]; ok {
			out = append(out, string(name))
		}
	}
	for _, oid := range cert.UnknownExtKeyUsage {
		if oid.Equal(OIDExtKeyUsageDocumentSigning) {
			out = append(out, string(ExtKeyUsageDocumentSigning))
		}
	}
	return out
}

// normalizeKeyUsages maps expected names onto their canonical spelling.
// Unknown names are kept so they simply never match.
func normalizeKeyUsages(names []string, parse func(string) (string, error)) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if v, err := parse(n); err == nil {
			out[i] = v
		} else {
			out[i] = n
		}
	}
	return out
}

func parseKeyUsageName(s string) (string, error) {
	ku, err := ParseKeyUsage(s)
	return string(ku), err
}

func parseExtKeyUsageName(s string) (string, error) {
	eku, err := ParseExtKeyUsage(s)
	return string(eku), err
}
