// Package revinfo turns CRLs and OCSP responses into revocation tokens.
package revinfo

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
)

// Common errors
var (
	ErrMalformedCRL  = errors.New("malformed CRL")
	ErrMalformedOCSP = errors.New("malformed OCSP response")
	ErrOCSPStatus    = errors.New("OCSP responder returned an error status")
)

var (
	oidCRLNumber          = asn1.ObjectIdentifier{2, 5, 29, 20}
	oidDeltaCRLIndicator  = asn1.ObjectIdentifier{2, 5, 29, 27}
	oidOCSPNoCheck        = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 5}
	oidExtKeyUsageOCSPSig = x509.ExtKeyUsageOCSPSigning
)

// CRLInfo contains parsed CRL information.
type CRLInfo struct {
	// Raw CRL data
	Raw []byte
	// Parsed CRL
	CRL *x509.RevocationList
	// Distribution point URL, empty for embedded CRLs
	URL string
	// Whether this is a delta CRL
	IsDelta bool
	// CRL number, if present
	Number *big.Int
}

// ParseCRL parses a DER encoded CRL.
func ParseCRL(raw []byte, url string) (*CRLInfo, error) {
	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCRL, err)
	}

	info := &CRLInfo{
		Raw: raw,
		CRL: crl,
		URL: url,
	}
	for _, ext := range crl.Extensions {
		switch {
		case ext.Id.Equal(oidDeltaCRLIndicator):
			info.IsDelta = true
		case ext.Id.Equal(oidCRLNumber):
			var num big.Int
			if _, err := asn1.Unmarshal(ext.Value, &num); err == nil {
				info.Number = &num
			}
		}
	}
	return info, nil
}

// Covers reports whether the CRL was issued by the issuer of cert.
func (ci *CRLInfo) Covers(cert *x509.Certificate) bool {
	return bytes.Equal(ci.CRL.RawIssuer, cert.RawIssuer) ||
		certvalidator.NamesEqual(ci.CRL.Issuer, cert.Issuer)
}

// Token derives the revocation token of cert from the CRL. issuer may be
// nil, in which case the CRL signature is reported as not verified.
// It returns nil when the CRL does not cover cert.
func (ci *CRLInfo) Token(cert, issuer *certvalidator.CertificateToken, origin certvalidator.RevocationOrigin) *certvalidator.RevocationToken {
	if cert == nil || !ci.Covers(cert.Certificate()) {
		return nil
	}
	d := certvalidator.RevocationData{
		Kind:         certvalidator.RevocationCRL,
		Status:       certvalidator.StatusGood,
		IssuanceDate: ci.CRL.ThisUpdate,
		ThisUpdate:   ci.CRL.ThisUpdate,
		NextUpdate:   ci.CRL.NextUpdate,
		Subject:      cert.Identity(),
		SourceURL:    ci.URL,
		Origin:       origin,
		Raw:          ci.Raw,
	}
	if issuer != nil {
		d.Issuer = issuer.Identity()
		d.SignatureValid = ci.CRL.CheckSignatureFrom(issuer.Certificate()) == nil
	}
	serial := cert.Certificate().SerialNumber
	for _, entry := range ci.CRL.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(serial) == 0 {
			d.Status = certvalidator.StatusRevoked
			d.RevocationDate = entry.RevocationTime
			d.Reason = certvalidator.RevocationReason(entry.ReasonCode)
			break
		}
	}
	return certvalidator.NewRevocationToken(d)
}

// OCSPInfo contains parsed OCSP response information.
type OCSPInfo struct {
	// Raw OCSP response data
	Raw []byte
	// Parsed OCSP response
	Response *ocsp.Response
	// OCSP responder URL, empty for embedded responses
	URL string
}

// ParseOCSP parses a DER encoded OCSP response. The response signature is
// checked later, once the issuer of the certificate is known.
func ParseOCSP(raw []byte, url string) (*OCSPInfo, error) {
	resp, err := ocsp.ParseResponse(raw, nil)
	if err != nil {
		var respErr ocsp.ResponseError
		if errors.As(err, &respErr) {
			return nil, fmt.Errorf("%w: %s", ErrOCSPStatus, respErr.Status)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedOCSP, err)
	}
	return &OCSPInfo{Raw: raw, Response: resp, URL: url}, nil
}

// Covers reports whether the response speaks about cert. With a non-nil
// issuer the CertID issuer name and key hashes must match as well.
func (oi *OCSPInfo) Covers(cert, issuer *x509.Certificate) bool {
	serial := oi.Response.SerialNumber
	if serial == nil || serial.Cmp(cert.SerialNumber) != 0 {
		return false
	}
	if issuer == nil {
		return true
	}
	for _, id := range oi.certIDs() {
		if id.serial.Cmp(serial) == 0 && id.issuedBy(issuer) {
			return true
		}
	}
	return false
}

var ocspHashes = []struct {
	oid  asn1.ObjectIdentifier
	hash crypto.Hash
}{
	{asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}, crypto.SHA1},
	{asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}, crypto.SHA256},
	{asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}, crypto.SHA384},
	{asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}, crypto.SHA512},
}

type certID struct {
	hash     crypto.Hash
	nameHash []byte
	keyHash  []byte
	serial   *big.Int
}

func (id certID) issuedBy(issuer *x509.Certificate) bool {
	if id.hash == 0 || !id.hash.Available() {
		return false
	}
	spki := cryptobyte.String(issuer.RawSubjectPublicKeyInfo)
	var body cryptobyte.String
	var key []byte
	if !spki.ReadASN1(&body, cbasn1.SEQUENCE) ||
		!body.SkipASN1(cbasn1.SEQUENCE) ||
		!body.ReadASN1BitStringAsBytes(&key) {
		return false
	}
	h := id.hash.New()
	h.Write(issuer.RawSubject)
	if !bytes.Equal(h.Sum(nil), id.nameHash) {
		return false
	}
	h = id.hash.New()
	h.Write(key)
	return bytes.Equal(h.Sum(nil), id.keyHash)
}

// certIDs reads the CertID of every single response in the signed
// response data.
func (oi *OCSPInfo) certIDs() []certID {
	input := cryptobyte.String(oi.Response.TBSResponseData)
	var data, responses cryptobyte.String
	var responderID cryptobyte.String
	var tag cbasn1.Tag
	if !input.ReadASN1(&data, cbasn1.SEQUENCE) ||
		!data.SkipOptionalASN1(cbasn1.Tag(0).Constructed().ContextSpecific()) ||
		!data.ReadAnyASN1(&responderID, &tag) ||
		!data.SkipASN1(cbasn1.GeneralizedTime) ||
		!data.ReadASN1(&responses, cbasn1.SEQUENCE) {
		return nil
	}
	var out []certID
	for !responses.Empty() {
		var single, raw, alg cryptobyte.String
		var oid asn1.ObjectIdentifier
		id := certID{serial: new(big.Int)}
		if !responses.ReadASN1(&single, cbasn1.SEQUENCE) ||
			!single.ReadASN1(&raw, cbasn1.SEQUENCE) ||
			!raw.ReadASN1(&alg, cbasn1.SEQUENCE) ||
			!alg.ReadASN1ObjectIdentifier(&oid) ||
			!raw.ReadASN1Bytes(&id.nameHash, cbasn1.OCTET_STRING) ||
			!raw.ReadASN1Bytes(&id.keyHash, cbasn1.OCTET_STRING) ||
			!raw.ReadASN1Integer(id.serial) {
			return out
		}
		for _, h := range ocspHashes {
			if h.oid.Equal(oid) {
				id.hash = h.hash
			}
		}
		out = append(out, id)
	}
	return out
}

// verify checks that the response was signed by issuer or by a responder
// certificate issuer delegated OCSP signing to.
func (oi *OCSPInfo) verify(issuer *x509.Certificate) bool {
	resp := oi.Response
	if resp.Certificate == nil {
		return resp.CheckSignatureFrom(issuer) == nil
	}
	if bytes.Equal(resp.Certificate.Raw, issuer.Raw) {
		return true
	}
	if resp.Certificate.CheckSignatureFrom(issuer) != nil {
		return false
	}
	for _, eku := range resp.Certificate.ExtKeyUsage {
		if eku == oidExtKeyUsageOCSPSig {
			return true
		}
	}
	return false
}

// Token derives the revocation token of cert from the response. It
// returns nil when the response is about another certificate.
func (oi *OCSPInfo) Token(cert, issuer *certvalidator.CertificateToken, origin certvalidator.RevocationOrigin) *certvalidator.RevocationToken {
	if cert == nil {
		return nil
	}
	var issuerCert *x509.Certificate
	if issuer != nil {
		issuerCert = issuer.Certificate()
	}
	if !oi.Covers(cert.Certificate(), issuerCert) {
		return nil
	}
	resp := oi.Response
	d := certvalidator.RevocationData{
		Kind:         certvalidator.RevocationOCSP,
		IssuanceDate: resp.ProducedAt,
		ThisUpdate:   resp.ThisUpdate,
		NextUpdate:   resp.NextUpdate,
		Subject:      cert.Identity(),
		SourceURL:    oi.URL,
		Origin:       origin,
		Raw:          oi.Raw,
	}
	switch resp.Status {
	case ocsp.Good:
		d.Status = certvalidator.StatusGood
	case ocsp.Revoked:
		d.Status = certvalidator.StatusRevoked
		d.RevocationDate = resp.RevokedAt
		d.Reason = certvalidator.RevocationReason(resp.RevocationReason)
	default:
		d.Status = certvalidator.StatusUnknown
	}
	if resp.Certificate != nil {
		d.Certificates = []*x509.Certificate{resp.Certificate}
		if id, err := certvalidator.IdentityOf(resp.Certificate); err == nil {
			d.Issuer = id
		}
	}
	if issuer != nil {
		if d.Issuer.IsZero() {
			d.Issuer = issuer.Identity()
		}
		d.SignatureValid = oi.verify(issuer.Certificate())
	}
	return certvalidator.NewRevocationToken(d)
}

// HasNoCheck reports whether the responder certificate carries the
// id-pkix-ocsp-nocheck extension.
func HasNoCheck(cert *x509.Certificate) bool {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidOCSPNoCheck) {
			return true
		}
	}
	return false
}

// CreateOCSPRequest creates an OCSP request for a certificate.
func CreateOCSPRequest(cert, issuer *x509.Certificate, hash crypto.Hash) ([]byte, error) {
	if hash == 0 {
		hash = crypto.SHA256
	}
	return ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: hash})
}

// OfflineSource serves revocation data that travelled with a signature.
// Tokens are derived lazily and remembered per certificate so repeated
// lookups return the same instances.
type OfflineSource struct {
	mu     sync.Mutex
	origin certvalidator.RevocationOrigin
	crls   []*CRLInfo
	ocsps  []*OCSPInfo
	cache  map[certvalidator.Identity][]*certvalidator.RevocationToken
}

// NewOfflineSource parses the given DER CRLs and OCSP responses.
func NewOfflineSource(crls, ocsps [][]byte) (*OfflineSource, error) {
	s := &OfflineSource{
		origin: certvalidator.OriginEmbedded,
		cache:  make(map[certvalidator.Identity][]*certvalidator.RevocationToken),
	}
	for i, raw := range crls {
		if err := s.AddCRL(raw, ""); err != nil {
			return nil, fmt.Errorf("CRL #%d: %w", i, err)
		}
	}
	for i, raw := range ocsps {
		if err := s.AddOCSP(raw, ""); err != nil {
			return nil, fmt.Errorf("OCSP response #%d: %w", i, err)
		}
	}
	return s, nil
}

// AddCRL adds a CRL to the source.
func (s *OfflineSource) AddCRL(raw []byte, url string) error {
	info, err := ParseCRL(raw, url)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crls = append(s.crls, info)
	s.cache = make(map[certvalidator.Identity][]*certvalidator.RevocationToken)
	return nil
}

// AddOCSP adds an OCSP response to the source.
func (s *OfflineSource) AddOCSP(raw []byte, url string) error {
	info, err := ParseOCSP(raw, url)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ocsps = append(s.ocsps, info)
	s.cache = make(map[certvalidator.Identity][]*certvalidator.RevocationToken)
	return nil
}

// Len returns the number of CRLs and OCSP responses held.
func (s *OfflineSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.crls) + len(s.ocsps)
}

// Revocations implements certvalidator.RevocationSource. OCSP responses
// come before CRLs.
func (s *OfflineSource) Revocations(cert, issuer *certvalidator.CertificateToken) []*certvalidator.RevocationToken {
	if cert == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[cert.Identity()]; ok {
		return cached
	}

	var out []*certvalidator.RevocationToken
	for _, info := range s.ocsps {
		if rt := info.Token(cert, issuer, s.origin); rt != nil {
			out = append(out, rt)
		}
	}
	for _, info := range s.crls {
		if rt := info.Token(cert, issuer, s.origin); rt != nil {
			out = append(out, rt)
		}
	}
	if issuer != nil {
		s.cache[cert.Identity()] = out
	}
	return out
}
