package cli

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
	"github.com/georgepadayatti/sigvalidate/certvalidator/revinfo"
	"github.com/georgepadayatti/sigvalidate/keys"
	"github.com/georgepadayatti/sigvalidate/sign/timestamps"
	"github.com/georgepadayatti/sigvalidate/sign/validation"
)

// bundleFile is an evidence bundle: the already parsed signatures of one
// document together with the files holding their embedded material.
// Relative paths are resolved against the bundle's directory.
type bundleFile struct {
	Signatures []signatureEntry `yaml:"signatures"`
}

type signatureEntry struct {
	ID                  string           `yaml:"id"`
	Signer              string           `yaml:"signer"`
	Certificates        []string         `yaml:"certificates"`
	CRLs                []string         `yaml:"crls"`
	OCSP                []string         `yaml:"ocsp"`
	SigningTime         *time.Time       `yaml:"signing-time"`
	ContentHints        string           `yaml:"content-hints"`
	CommitmentTypes     []string         `yaml:"commitment-types"`
	SignerLocation      string           `yaml:"signer-location"`
	ClaimedRoles        []string         `yaml:"claimed-roles"`
	CertifiedRoles      []string         `yaml:"certified-roles"`
	DigestAlgorithm     string           `yaml:"digest-algorithm"`
	EncryptionAlgorithm string           `yaml:"encryption-algorithm"`
	KeySize             int              `yaml:"key-size"`
	Intact              bool             `yaml:"intact"`
	Timestamps          []timestampEntry `yaml:"timestamps"`
}

// timestampEntry describes a timestamp either by an RFC 3161 token file or
// by its already extracted fields.
type timestampEntry struct {
	ID            string    `yaml:"id"`
	Type          string    `yaml:"type"`
	Token         string    `yaml:"token"`
	GenTime       time.Time `yaml:"gen-time"`
	HashAlgorithm string    `yaml:"hash-algorithm"`
	Imprint       string    `yaml:"imprint"`
	Covered       string    `yaml:"covered"`
	Signer        string    `yaml:"signer"`
	Certificates  []string  `yaml:"certificates"`
}

// bundleSignature is a signature read from an evidence bundle.
type bundleSignature struct {
	entry       signatureEntry
	signers     []*x509.Certificate
	certs       []*x509.Certificate
	revocations certvalidator.RevocationSource
	timestamps  []*certvalidator.TimestampToken
	digest      crypto.Hash
	encryption  string
	keySize     int
}

func (s *bundleSignature) ID() string { return s.entry.ID }

func (s *bundleSignature) SigningCertificateCandidates() []*x509.Certificate { return s.signers }

func (s *bundleSignature) Certificates() []*x509.Certificate { return s.certs }

func (s *bundleSignature) EmbeddedRevocationSource() certvalidator.RevocationSource {
	return s.revocations
}

func (s *bundleSignature) EmbeddedTimestamps() []*certvalidator.TimestampToken { return s.timestamps }

func (s *bundleSignature) SigningTime() (time.Time, bool) {
	if s.entry.SigningTime == nil {
		return time.Time{}, false
	}
	return *s.entry.SigningTime, true
}

func (s *bundleSignature) ContentHints() string         { return s.entry.ContentHints }
func (s *bundleSignature) CommitmentTypes() []string    { return s.entry.CommitmentTypes }
func (s *bundleSignature) SignerLocation() string       { return s.entry.SignerLocation }
func (s *bundleSignature) ClaimedRoles() []string       { return s.entry.ClaimedRoles }
func (s *bundleSignature) CertifiedRoles() []string     { return s.entry.CertifiedRoles }
func (s *bundleSignature) DigestAlgorithm() crypto.Hash { return s.digest }
func (s *bundleSignature) EncryptionAlgorithm() string  { return s.encryption }
func (s *bundleSignature) KeySize() int                 { return s.keySize }
func (s *bundleSignature) SignatureIntact() bool        { return s.entry.Intact }

// LoadBundle reads the signatures of an evidence bundle.
func LoadBundle(filename string) ([]validation.Signature, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	var bf bundleFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	if len(bf.Signatures) == 0 {
		return nil, fmt.Errorf("bundle %s lists no signatures", filename)
	}

	r := &resolver{dir: filepath.Dir(filename)}
	sigs := make([]validation.Signature, 0, len(bf.Signatures))
	seen := make(map[string]bool)
	for i, entry := range bf.Signatures {
		if entry.ID == "" {
			entry.ID = fmt.Sprintf("signature-%d", i+1)
		}
		if seen[entry.ID] {
			return nil, fmt.Errorf("duplicate signature id %q", entry.ID)
		}
		seen[entry.ID] = true
		sig, err := r.signature(entry)
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", entry.ID, err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

type resolver struct {
	dir string
}

func (r *resolver) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.dir, p)
}

func (r *resolver) certs(paths []string) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	for _, p := range paths {
		certs, err := keys.LoadCertsFromPemDer(r.path(p))
		if err != nil {
			return nil, err
		}
		out = append(out, certs...)
	}
	return out, nil
}

func (r *resolver) blocks(paths []string, blockType string) ([][]byte, error) {
	var out [][]byte
	for _, p := range paths {
		blocks, err := keys.LoadDERFile(r.path(p), blockType)
		if err != nil {
			return nil, err
		}
		out = append(out, blocks...)
	}
	return out, nil
}

func (r *resolver) signature(entry signatureEntry) (*bundleSignature, error) {
	sig := &bundleSignature{entry: entry}
	var err error
	if entry.Signer != "" {
		if sig.signers, err = r.certs([]string{entry.Signer}); err != nil {
			return nil, err
		}
	}
	if sig.certs, err = r.certs(entry.Certificates); err != nil {
		return nil, err
	}
	sig.certs = append(append([]*x509.Certificate(nil), sig.signers...), sig.certs...)

	crls, err := r.blocks(entry.CRLs, keys.BlockCRL)
	if err != nil {
		return nil, err
	}
	ocsps, err := r.blocks(entry.OCSP, keys.BlockOCSP)
	if err != nil {
		return nil, err
	}
	if len(crls)+len(ocsps) > 0 {
		src, err := revinfo.NewOfflineSource(crls, ocsps)
		if err != nil {
			return nil, err
		}
		sig.revocations = src
	}

	if entry.DigestAlgorithm != "" {
		if sig.digest, err = parseHash(entry.DigestAlgorithm); err != nil {
			return nil, err
		}
	}
	sig.encryption = entry.EncryptionAlgorithm
	sig.keySize = entry.KeySize
	if len(sig.signers) > 0 {
		alg, size := publicKeyInfo(sig.signers[0])
		if sig.encryption == "" {
			sig.encryption = alg
		}
		if sig.keySize == 0 {
			sig.keySize = size
		}
	}

	for _, te := range entry.Timestamps {
		ts, err := r.timestamp(te)
		if err != nil {
			return nil, fmt.Errorf("timestamp %s: %w", te.ID, err)
		}
		sig.timestamps = append(sig.timestamps, ts)
	}
	return sig, nil
}

func (r *resolver) timestamp(te timestampEntry) (*certvalidator.TimestampToken, error) {
	typ, err := certvalidator.ParseTimestampType(te.Type)
	if err != nil {
		return nil, err
	}
	if te.Token != "" {
		return r.timestampToken(te, typ)
	}
	hash := crypto.SHA256
	if te.HashAlgorithm != "" {
		if hash, err = parseHash(te.HashAlgorithm); err != nil {
			return nil, err
		}
	}
	imprint, err := hex.DecodeString(te.Imprint)
	if err != nil {
		return nil, fmt.Errorf("imprint: %w", err)
	}
	data := certvalidator.TimestampData{
		ID:            te.ID,
		Type:          typ,
		GenTime:       te.GenTime,
		HashAlgorithm: hash,
		Imprint:       imprint,
	}
	if te.Covered != "" {
		if data.CoveredData, err = os.ReadFile(r.path(te.Covered)); err != nil {
			return nil, err
		}
	}
	if te.Signer != "" {
		signers, err := r.certs([]string{te.Signer})
		if err != nil {
			return nil, err
		}
		data.SignerCertificate = signers[0]
		data.Certificates = signers
	}
	others, err := r.certs(te.Certificates)
	if err != nil {
		return nil, err
	}
	data.Certificates = append(data.Certificates, others...)
	return certvalidator.NewTimestampToken(data)
}

func (r *resolver) timestampToken(te timestampEntry, typ certvalidator.TimestampType) (*certvalidator.TimestampToken, error) {
	blocks, err := keys.LoadDERFile(r.path(te.Token), keys.BlockTimestamp)
	if err != nil {
		return nil, err
	}
	tok, err := timestamps.ParseToken(blocks[0])
	if err != nil {
		return nil, err
	}
	var signer *x509.Certificate
	if te.Signer != "" {
		certs, err := r.certs([]string{te.Signer})
		if err != nil {
			return nil, err
		}
		signer = certs[0]
		tok.Signer = signer
	}
	extra, err := r.certs(te.Certificates)
	if err != nil {
		return nil, err
	}
	tok.Certificates = append(tok.Certificates, extra...)
	if err := tok.Verify(signer); err != nil {
		return nil, err
	}
	var covered []byte
	if te.Covered != "" {
		if covered, err = os.ReadFile(r.path(te.Covered)); err != nil {
			return nil, err
		}
	}
	return tok.Evidence(te.ID, typ, covered)
}

// parseHash accepts names like "SHA-256", "sha256" or "SHA512".
func parseHash(name string) (crypto.Hash, error) {
	norm := func(s string) string { return strings.ToUpper(strings.ReplaceAll(s, "-", "")) }
	want := norm(name)
	for h := crypto.MD4; h <= crypto.BLAKE2b_512; h++ {
		if norm(h.String()) == want {
			return h, nil
		}
	}
	return 0, fmt.Errorf("unknown hash algorithm %q", name)
}

func publicKeyInfo(cert *x509.Certificate) (string, int) {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return "RSA", pub.N.BitLen()
	case *ecdsa.PublicKey:
		return "ECDSA", pub.Curve.Params().BitSize
	case ed25519.PublicKey:
		return "Ed25519", 256
	}
	return cert.PublicKeyAlgorithm.String(), 0
}
