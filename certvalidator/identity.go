// Package certvalidator collects the evidence needed to judge a signature:
// certificates, revocation data and timestamps, resolved transitively
// against a trust model.
package certvalidator

import (
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Identity identifies a certificate by issuer distinguished name and serial
// number. Two certificates with the same issuer and serial share an identity
// no matter which source supplied their bytes.
type Identity struct {
	IssuerHash [32]byte
	Serial     string
}

// IdentityOf derives the identity of cert.
func IdentityOf(cert *x509.Certificate) (Identity, error) {
	if cert == nil {
		return Identity{}, ErrNilCertificate
	}
	if cert.SerialNumber == nil {
		return Identity{}, fmt.Errorf("%w: certificate has no serial number", ErrMalformedIdentity)
	}
	return Identity{
		IssuerHash: sha256.Sum256([]byte(CanonicalName(cert.Issuer))),
		Serial:     cert.SerialNumber.String(),
	}, nil
}

// IsZero reports whether id is the zero identity.
func (id Identity) IsZero() bool {
	return id.Serial == "" && id.IssuerHash == [32]byte{}
}

func (id Identity) String() string {
	return hex.EncodeToString(id.IssuerHash[:8]) + ":" + id.Serial
}

// CanonicalName renders name in a form suitable for equality checks:
// attribute values are NFKC normalized, case folded and have their inner
// whitespace collapsed.
func CanonicalName(name pkix.Name) string {
	atvs := name.Names
	if len(atvs) == 0 {
		for _, rdn := range name.ToRDNSequence() {
			atvs = append(atvs, rdn...)
		}
	}

	parts := make([]string, 0, len(atvs))
	for _, atv := range atvs {
		parts = append(parts, atv.Type.String()+"="+normalizeRDNValue(atv.Value))
	}
	return strings.Join(parts, ",")
}

func normalizeRDNValue(value interface{}) string {
	s, ok := value.(string)
	if !ok {
		return fmt.Sprint(value)
	}
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

func subjectKey(name pkix.Name) string {
	h := sha256.Sum256([]byte(CanonicalName(name)))
	return string(h[:])
}

// NamesEqual compares two distinguished names after canonicalization.
func NamesEqual(a, b pkix.Name) bool {
	return CanonicalName(a) == CanonicalName(b)
}
