package certvalidator

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"sort"
	"sync"
)

// SourceType names where a certificate was obtained from.
type SourceType int

const (
	SourceOther SourceType = iota
	SourceTrustedList
	SourceTrustedStore
	SourceSignature
	SourceOCSPResponse
	SourceAIA
	SourceTimestamp
)

func (s SourceType) String() string {
	switch s {
	case SourceTrustedList:
		return "trusted-list"
	case SourceTrustedStore:
		return "trusted-store"
	case SourceSignature:
		return "signature"
	case SourceOCSPResponse:
		return "ocsp-response"
	case SourceAIA:
		return "aia"
	case SourceTimestamp:
		return "timestamp"
	default:
		return "other"
	}
}

// ParseSourceType is the inverse of SourceType.String. Unknown names map to
// SourceOther.
func ParseSourceType(s string) SourceType {
	for st := SourceOther; st <= SourceTimestamp; st++ {
		if st.String() == s {
			return st
		}
	}
	return SourceOther
}

// ServiceInfo is a trust-service record associated with a certificate, for
// instance the entry of a trusted list that published it.
type ServiceInfo struct {
	TSPName     string `yaml:"tsp-name" json:"tspName,omitempty"`
	ServiceName string `yaml:"service-name" json:"serviceName,omitempty"`
	ServiceType string `yaml:"service-type" json:"serviceType,omitempty"`
	Status      string `yaml:"status" json:"status,omitempty"`
}

// ValidationInfo is one entry of a certificate's validation log.
type ValidationInfo struct {
	Run     string
	Seq     uint64
	Message string
}

// CertificateToken is a registered certificate. Its identity and bytes never
// change; sources, services and the validation log only grow, and the issuer
// and revocation links are set at most once.
type CertificateToken struct {
	id         Identity
	cert       *x509.Certificate
	subject    string
	selfSigned bool

	mu             sync.RWMutex
	sources        map[SourceType]struct{}
	services       []ServiceInfo
	issuer         *CertificateToken
	signatureValid bool
	revocation     *RevocationToken
	infos          []ValidationInfo
}

func newCertificateToken(id Identity, cert *x509.Certificate) *CertificateToken {
	return &CertificateToken{
		id:         id,
		cert:       cert,
		subject:    subjectKey(cert.Subject),
		selfSigned: isSelfSigned(cert),
		sources:    make(map[SourceType]struct{}),
	}
}

func isSelfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	return signedBy(cert, cert)
}

// signedBy checks the signature of cert with the public key of issuer. CA
// constraints of the issuer are not enforced here.
func signedBy(cert, issuer *x509.Certificate) bool {
	return VerifyCertificateSignature(cert, issuer) == nil
}

// Identity returns the issuer+serial identity of the token.
func (t *CertificateToken) Identity() Identity { return t.id }

// Certificate returns the parsed certificate.
func (t *CertificateToken) Certificate() *x509.Certificate { return t.cert }

// Raw returns the DER encoding of the certificate.
func (t *CertificateToken) Raw() []byte { return t.cert.Raw }

// Subject returns the subject name of the certificate.
func (t *CertificateToken) Subject() pkix.Name { return t.cert.Subject }

// IsSelfSigned reports whether the certificate is issued and signed by itself.
func (t *CertificateToken) IsSelfSigned() bool { return t.selfSigned }

// Sources returns the source types the certificate was seen in, sorted.
func (t *CertificateToken) Sources() []SourceType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]SourceType, 0, len(t.sources))
	for s := range t.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasSource reports whether the certificate was seen in source s.
func (t *CertificateToken) HasSource(s SourceType) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sources[s]
	return ok
}

// IsTrusted reports whether the certificate is a trust anchor.
func (t *CertificateToken) IsTrusted() bool {
	return t.HasSource(SourceTrustedList) || t.HasSource(SourceTrustedStore)
}

// Services returns the trust-service records attached to the certificate.
func (t *CertificateToken) Services() []ServiceInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]ServiceInfo(nil), t.services...)
}

// Issuer returns the linked issuer token, if any.
func (t *CertificateToken) Issuer() *CertificateToken {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.issuer
}

// IsSignatureValid reports whether the certificate signature verified
// against the linked issuer.
func (t *CertificateToken) IsSignatureValid() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.signatureValid
}

// Revocation returns the linked revocation token, if any.
func (t *CertificateToken) Revocation() *RevocationToken {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.revocation
}

// ValidationInfos returns a copy of the validation log.
func (t *CertificateToken) ValidationInfos() []ValidationInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]ValidationInfo(nil), t.infos...)
}

// AddValidationInfo appends an entry to the validation log.
func (t *CertificateToken) AddValidationInfo(run string, seq uint64, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.infos = append(t.infos, ValidationInfo{Run: run, Seq: seq, Message: msg})
}

// SetIssuer links the issuer and verifies the certificate signature against
// it. It returns false when an issuer was already linked.
func (t *CertificateToken) SetIssuer(issuer *CertificateToken) bool {
	if issuer == nil {
		return false
	}
	valid := signedBy(t.cert, issuer.cert)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.issuer != nil {
		return false
	}
	t.issuer = issuer
	t.signatureValid = valid
	return true
}

// SetRevocation links revocation evidence. It returns false when evidence
// was already linked.
func (t *CertificateToken) SetRevocation(rt *RevocationToken) bool {
	if rt == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.revocation != nil {
		return false
	}
	t.revocation = rt
	return true
}

func (t *CertificateToken) addSources(sources []SourceType) {
	if len(sources) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range sources {
		t.sources[s] = struct{}{}
	}
}

func (t *CertificateToken) addServices(services []ServiceInfo) {
	if len(services) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
outer:
	for _, s := range services {
		for _, have := range t.services {
			if have == s {
				continue outer
			}
		}
		t.services = append(t.services, s)
	}
}

func (t *CertificateToken) String() string {
	return t.cert.Subject.String() + " [" + t.id.String() + "]"
}
