// Package timestamps reads RFC 3161 timestamp tokens and turns them into
// validation evidence.
package timestamps

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
)

// OIDs for timestamp structures
var (
	OIDSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDTSTInfo       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

	// Hash algorithms
	OIDSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	// Signature algorithms
	OIDRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDRSAWithSHA256   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDRSAWithSHA384   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDRSAWithSHA512   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
	OIDEd25519         = asn1.ObjectIdentifier{1, 3, 101, 112}
)

// Common errors
var (
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrTimestampMismatch = errors.New("timestamp message digest mismatch")
	ErrSignerNotFound    = errors.New("timestamp signer certificate not found")
)

var hashOIDs = []struct {
	oid  asn1.ObjectIdentifier
	hash crypto.Hash
}{
	{OIDSHA1, crypto.SHA1},
	{OIDSHA256, crypto.SHA256},
	{OIDSHA384, crypto.SHA384},
	{OIDSHA512, crypto.SHA512},
}

func hashFromOID(oid asn1.ObjectIdentifier) crypto.Hash {
	for _, h := range hashOIDs {
		if h.oid.Equal(oid) {
			return h.hash
		}
	}
	return 0
}

func hashOID(hash crypto.Hash) (asn1.ObjectIdentifier, error) {
	for _, h := range hashOIDs {
		if h.hash == hash {
			return h.oid, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported hash algorithm %s", ErrInvalidTimestamp, hash)
}

// AlgorithmIdentifier represents an algorithm with parameters.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// MessageImprint represents the hash of the timestamped data.
type MessageImprint struct {
	HashAlgorithm AlgorithmIdentifier
	HashedMessage []byte
}

// TSTInfo represents the timestamp token info.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time     `asn1:"generalized"`
	Accuracy       Accuracy      `asn1:"optional"`
	Ordering       bool          `asn1:"optional,default:false"`
	Nonce          *big.Int      `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional,explicit,tag:0"`
	Extensions     []Extension   `asn1:"optional,implicit,tag:1"`
}

// Accuracy represents timestamp accuracy.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,implicit,tag:0"`
	Micros  int `asn1:"optional,implicit,tag:1"`
}

// Extension represents an X.509 extension.
type Extension struct {
	ExtnID    asn1.ObjectIdentifier
	Critical  bool `asn1:"optional,default:false"`
	ExtnValue []byte
}

// Token is a parsed timestamp token.
type Token struct {
	Raw          []byte
	TSTInfo      *TSTInfo
	Certificates []*x509.Certificate
	// Signer is the embedded certificate named by the signer info, nil when
	// the TSA did not include it.
	Signer *x509.Certificate

	eContent     []byte
	digestAlg    crypto.Hash
	sigAlg       asn1.ObjectIdentifier
	signedAttrs  []byte
	signature    []byte
	issuerRaw    []byte
	serialNumber *big.Int
}

// GenTime returns the time asserted by the TSA.
func (t *Token) GenTime() time.Time { return t.TSTInfo.GenTime }

// HashAlgorithm returns the algorithm of the message imprint.
func (t *Token) HashAlgorithm() crypto.Hash {
	return hashFromOID(t.TSTInfo.MessageImprint.HashAlgorithm.Algorithm)
}

// Imprint returns the hashed message the token covers.
func (t *Token) Imprint() []byte { return t.TSTInfo.MessageImprint.HashedMessage }

func malformed(what string) error {
	return fmt.Errorf("%w: malformed %s", ErrInvalidTimestamp, what)
}

// ParseToken parses a DER encoded TimeStampToken, a CMS SignedData
// carrying a TSTInfo. Only the first signer info is considered.
func ParseToken(der []byte) (*Token, error) {
	input := cryptobyte.String(der)
	var ci, content, sd cryptobyte.String
	var ctype asn1.ObjectIdentifier
	if !input.ReadASN1(&ci, cbasn1.SEQUENCE) ||
		!ci.ReadASN1ObjectIdentifier(&ctype) ||
		!ci.ReadASN1(&content, cbasn1.Tag(0).Constructed().ContextSpecific()) ||
		!content.ReadASN1(&sd, cbasn1.SEQUENCE) {
		return nil, malformed("content info")
	}
	if !ctype.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: content type %s is not signed data", ErrInvalidTimestamp, ctype)
	}

	var version int64
	var encap, eWrapper, eContent cryptobyte.String
	var eType asn1.ObjectIdentifier
	if !sd.ReadASN1Integer(&version) ||
		!sd.SkipASN1(cbasn1.SET) ||
		!sd.ReadASN1(&encap, cbasn1.SEQUENCE) ||
		!encap.ReadASN1ObjectIdentifier(&eType) ||
		!encap.ReadASN1(&eWrapper, cbasn1.Tag(0).Constructed().ContextSpecific()) ||
		!eWrapper.ReadASN1(&eContent, cbasn1.OCTET_STRING) {
		return nil, malformed("signed data")
	}
	if !eType.Equal(OIDTSTInfo) {
		return nil, fmt.Errorf("%w: encapsulated content %s is not TSTInfo", ErrInvalidTimestamp, eType)
	}

	tok := &Token{Raw: append([]byte(nil), der...), eContent: []byte(eContent)}
	tok.TSTInfo = new(TSTInfo)
	if rest, err := asn1.Unmarshal(tok.eContent, tok.TSTInfo); err != nil || len(rest) > 0 {
		return nil, malformed("TSTInfo")
	}

	var certs cryptobyte.String
	var hasCerts bool
	if !sd.ReadOptionalASN1(&certs, &hasCerts, cbasn1.Tag(0).Constructed().ContextSpecific()) ||
		!sd.SkipOptionalASN1(cbasn1.Tag(1).Constructed().ContextSpecific()) {
		return nil, malformed("certificates")
	}
	for !certs.Empty() {
		var raw cryptobyte.String
		if !certs.ReadASN1Element(&raw, cbasn1.SEQUENCE) {
			return nil, malformed("certificate")
		}
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
		tok.Certificates = append(tok.Certificates, cert)
	}

	var infos, si cryptobyte.String
	if !sd.ReadASN1(&infos, cbasn1.SET) || !infos.ReadASN1(&si, cbasn1.SEQUENCE) {
		return nil, malformed("signer infos")
	}
	if err := tok.parseSignerInfo(si); err != nil {
		return nil, err
	}
	for _, cert := range tok.Certificates {
		if bytes.Equal(cert.RawIssuer, tok.issuerRaw) && cert.SerialNumber.Cmp(tok.serialNumber) == 0 {
			tok.Signer = cert
			break
		}
	}
	return tok, nil
}

func (t *Token) parseSignerInfo(si cryptobyte.String) error {
	var version int64
	var sid, issuer, digestAlg, sigAlg, attrs cryptobyte.String
	var digestOID asn1.ObjectIdentifier
	var hasAttrs bool
	t.serialNumber = new(big.Int)
	if !si.ReadASN1Integer(&version) ||
		!si.ReadASN1(&sid, cbasn1.SEQUENCE) ||
		!sid.ReadASN1Element(&issuer, cbasn1.SEQUENCE) ||
		!sid.ReadASN1Integer(t.serialNumber) ||
		!si.ReadASN1(&digestAlg, cbasn1.SEQUENCE) ||
		!digestAlg.ReadASN1ObjectIdentifier(&digestOID) ||
		!si.ReadOptionalASN1(&attrs, &hasAttrs, cbasn1.Tag(0).Constructed().ContextSpecific()) ||
		!si.ReadASN1(&sigAlg, cbasn1.SEQUENCE) ||
		!sigAlg.ReadASN1ObjectIdentifier(&t.sigAlg) ||
		!si.ReadASN1Bytes(&t.signature, cbasn1.OCTET_STRING) {
		return malformed("signer info")
	}
	if version != 1 {
		return fmt.Errorf("%w: signer info version %d is not supported", ErrInvalidTimestamp, version)
	}
	if !hasAttrs {
		return fmt.Errorf("%w: signer info has no signed attributes", ErrInvalidTimestamp)
	}
	t.issuerRaw = []byte(issuer)
	t.signedAttrs = []byte(attrs)
	if t.digestAlg = hashFromOID(digestOID); t.digestAlg == 0 {
		return fmt.Errorf("%w: unsupported digest algorithm %s", ErrInvalidTimestamp, digestOID)
	}
	return nil
}

// signedAttributes returns the DER SET of the signed attributes, the form
// the signature is computed over.
func (t *Token) signedAttributes() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) { b.AddBytes(t.signedAttrs) })
	return b.Bytes()
}

func (t *Token) attribute(oid asn1.ObjectIdentifier) (cryptobyte.String, bool) {
	attrs := cryptobyte.String(t.signedAttrs)
	for !attrs.Empty() {
		var attr, values cryptobyte.String
		var typ asn1.ObjectIdentifier
		if !attrs.ReadASN1(&attr, cbasn1.SEQUENCE) ||
			!attr.ReadASN1ObjectIdentifier(&typ) ||
			!attr.ReadASN1(&values, cbasn1.SET) {
			return nil, false
		}
		if typ.Equal(oid) {
			return values, true
		}
	}
	return nil, false
}

// Verify checks the CMS signature of the token with its signer certificate.
// signer overrides the embedded signer when it is not nil.
func (t *Token) Verify(signer *x509.Certificate) error {
	if signer == nil {
		signer = t.Signer
	}
	if signer == nil {
		return ErrSignerNotFound
	}

	values, ok := t.attribute(OIDContentType)
	var ctype asn1.ObjectIdentifier
	if !ok || !values.ReadASN1ObjectIdentifier(&ctype) || !ctype.Equal(OIDTSTInfo) {
		return fmt.Errorf("%w: content type attribute does not name TSTInfo", ErrInvalidTimestamp)
	}
	values, ok = t.attribute(OIDMessageDigest)
	var digest []byte
	if !ok || !values.ReadASN1Bytes(&digest, cbasn1.OCTET_STRING) {
		return fmt.Errorf("%w: missing message digest attribute", ErrInvalidTimestamp)
	}
	h := t.digestAlg.New()
	h.Write(t.eContent)
	if !bytes.Equal(h.Sum(nil), digest) {
		return ErrTimestampMismatch
	}

	signed, err := t.signedAttributes()
	if err != nil {
		return err
	}
	scheme, hash := t.signatureScheme()
	return certvalidator.VerifySignature(scheme, hash, signer.PublicKey, signed, t.signature)
}

func (t *Token) signatureScheme() (certvalidator.SignatureScheme, crypto.Hash) {
	switch {
	case t.sigAlg.Equal(OIDRSAEncryption):
		return certvalidator.SchemeRSAPKCS1v15, t.digestAlg
	case t.sigAlg.Equal(OIDRSAWithSHA256):
		return certvalidator.SchemeRSAPKCS1v15, crypto.SHA256
	case t.sigAlg.Equal(OIDRSAWithSHA384):
		return certvalidator.SchemeRSAPKCS1v15, crypto.SHA384
	case t.sigAlg.Equal(OIDRSAWithSHA512):
		return certvalidator.SchemeRSAPKCS1v15, crypto.SHA512
	case t.sigAlg.Equal(OIDECDSAWithSHA256):
		return certvalidator.SchemeECDSA, crypto.SHA256
	case t.sigAlg.Equal(OIDECDSAWithSHA384):
		return certvalidator.SchemeECDSA, crypto.SHA384
	case t.sigAlg.Equal(OIDECDSAWithSHA512):
		return certvalidator.SchemeECDSA, crypto.SHA512
	case t.sigAlg.Equal(OIDEd25519):
		return certvalidator.SchemeEd25519, 0
	}
	return certvalidator.SchemeUnknown, t.digestAlg
}

// Evidence converts the token into timestamp evidence over covered.
func (t *Token) Evidence(id string, typ certvalidator.TimestampType, covered []byte) (*certvalidator.TimestampToken, error) {
	hash := t.HashAlgorithm()
	if hash == 0 {
		return nil, fmt.Errorf("%w: unsupported imprint algorithm %s", ErrInvalidTimestamp, t.TSTInfo.MessageImprint.HashAlgorithm.Algorithm)
	}
	return certvalidator.NewTimestampToken(certvalidator.TimestampData{
		ID:                id,
		Type:              typ,
		GenTime:           t.GenTime(),
		HashAlgorithm:     hash,
		Imprint:           t.Imprint(),
		CoveredData:       covered,
		SignerCertificate: t.Signer,
		Certificates:      t.Certificates,
	})
}
