package validation

import (
	"crypto"
	"errors"
	"time"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
)

// SignatureAttributes exposes the signed attributes the acceptance checks
// look at. Absent attributes are reported as zero values.
type SignatureAttributes interface {
	ContentHints() string
	CommitmentTypes() []string
	SignerLocation() string
	ClaimedRoles() []string
	CertifiedRoles() []string
	DigestAlgorithm() crypto.Hash
	// EncryptionAlgorithm names the public key algorithm, for example
	// "RSA", "ECDSA" or "Ed25519".
	EncryptionAlgorithm() string
	KeySize() int
	// SignatureIntact reports whether the signature value verified against
	// the signed content.
	SignatureIntact() bool
}

// Signature is everything the validator needs from one signature.
type Signature interface {
	certvalidator.AdvancedSignature
	SignatureAttributes
}

// ErrNilSnapshot is returned when evidence is built without a snapshot.
var ErrNilSnapshot = errors.New("nil evidence snapshot")

// Evidence is the frozen input of the conclusion engine for one signature.
type Evidence struct {
	SignatureID    string
	ValidationTime time.Time
	// SigningTime is the claimed signing time, zero when absent.
	SigningTime time.Time
	Attributes  SignatureAttributes
	// SigningCertificate is nil when no candidate was processed.
	SigningCertificate  *certvalidator.CertificateToken
	ContentTimestamps   []certvalidator.TimestampStatus
	SignatureTimestamps []certvalidator.TimestampStatus
	ArchiveTimestamps   []certvalidator.TimestampStatus
	Snapshot            *certvalidator.Snapshot
}

// NewEvidence freezes what the validation run of sig discovered.
func NewEvidence(sig Signature, snap *certvalidator.Snapshot) (*Evidence, error) {
	if sig == nil {
		return nil, certvalidator.ErrNilSignature
	}
	if snap == nil {
		return nil, ErrNilSnapshot
	}
	ev := &Evidence{
		SignatureID:    sig.ID(),
		ValidationTime: snap.ValidationTime(),
		Attributes:     sig,
		Snapshot:       snap,
	}
	if t, ok := sig.SigningTime(); ok {
		ev.SigningTime = t
	}
	for _, cert := range sig.SigningCertificateCandidates() {
		id, err := certvalidator.IdentityOf(cert)
		if err != nil {
			continue
		}
		if tok := snap.Certificate(id); tok != nil {
			ev.SigningCertificate = tok
			break
		}
	}
	for _, ts := range snap.ProcessedTimestamps() {
		switch ts.Token.Type() {
		case certvalidator.TimestampContent:
			ev.ContentTimestamps = append(ev.ContentTimestamps, ts)
		case certvalidator.TimestampSignature:
			ev.SignatureTimestamps = append(ev.SignatureTimestamps, ts)
		case certvalidator.TimestampArchive:
			ev.ArchiveTimestamps = append(ev.ArchiveTimestamps, ts)
		}
	}
	return ev, nil
}

// Chain returns the certificate chain of the signing certificate.
func (ev *Evidence) Chain() []*certvalidator.CertificateToken {
	if ev.SigningCertificate == nil {
		return nil
	}
	return ev.Snapshot.ChainOf(ev.SigningCertificate)
}

// Qualified reports whether ts can serve as proof of existence. The
// imprint must match and every link of the TSA chain must verify up to a
// trust anchor. The generation time has to fall inside the TSA validity
// window and the TSA must not be revoked.
func (ev *Evidence) Qualified(ts certvalidator.TimestampStatus) bool {
	if !ts.ImprintValid || ts.Token == nil || ts.Signer == nil {
		return false
	}
	if !ev.Snapshot.ValidChainToAnchor(ts.Signer) {
		return false
	}
	tsa, genTime := ts.Signer.Certificate(), ts.Token.GenTime()
	if genTime.Before(tsa.NotBefore) || genTime.After(tsa.NotAfter) {
		return false
	}
	// A revoked TSA disqualifies its tokens regardless of the revocation
	// date: nothing proves the token predates the compromise.
	if rt := revocationVerdict(ev.Snapshot, ts.Signer); rt != nil && rt.Status() == certvalidator.StatusRevoked {
		return false
	}
	return true
}

// Timestamps returns every timestamp of the signature.
func (ev *Evidence) Timestamps() []certvalidator.TimestampStatus {
	out := make([]certvalidator.TimestampStatus, 0,
		len(ev.ContentTimestamps)+len(ev.SignatureTimestamps)+len(ev.ArchiveTimestamps))
	out = append(out, ev.ContentTimestamps...)
	out = append(out, ev.SignatureTimestamps...)
	return append(out, ev.ArchiveTimestamps...)
}
