// Package validation turns the evidence collected by a validation context
// into an AdES conclusion, driven by a declarative policy.
package validation

import (
	"crypto"
	"time"

	"github.com/georgepadayatti/sigvalidate/sign/ades"
)

// Constraint names. Acceptance constraints inspect signature attributes,
// the others belong to the long-term validation stages.
const (
	ConstraintSigningTime      = "signing-time"
	ConstraintContentHints     = "content-hints"
	ConstraintCommitmentType   = "commitment-type"
	ConstraintSignerLocation   = "signer-location"
	ConstraintContentTimestamp = "content-timestamp"
	ConstraintClaimedRole      = "claimed-role"
	ConstraintCertifiedRole    = "certified-role"
	ConstraintCryptoStrength   = "crypto-strength"

	ConstraintSigningCertificate  = "signing-certificate"
	ConstraintSignatureIntact     = "signature-intact"
	ConstraintTrustAnchor         = "trust-anchor"
	ConstraintChainSignatures     = "chain-signatures"
	ConstraintKeyUsage            = "key-usage"
	ConstraintExtendedKeyUsage    = "extended-key-usage"
	ConstraintCertificateValidity = "certificate-validity"
	ConstraintRevocationStatus    = "revocation-status"
	ConstraintRevocationFreshness = "revocation-freshness"
	ConstraintTimestampImprint    = "timestamp-imprint"
	ConstraintTimestampOrder      = "timestamp-order"
)

// Names of entries that are recorded but not driven by a constraint.
const (
	entryPOECorroboration  = "poe-corroboration"
	entryBestSignatureTime = "best-signature-time"
)

// Constraint is the expected shape of one named check.
type Constraint struct {
	// Mandatory failures end the chain; others only produce a warning.
	Mandatory bool `yaml:"mandatory" json:"mandatory"`
	// Expected lists acceptable values. Empty means any present value.
	Expected []string `yaml:"expected,omitempty" json:"expected,omitempty"`
	// MatchAll requires every expected value instead of one of them.
	MatchAll bool `yaml:"matchAll,omitempty" json:"matchAll,omitempty"`
	// AlgorithmExpiry maps algorithm names to the date they stop being
	// acceptable.
	AlgorithmExpiry map[string]time.Time `yaml:"algorithmExpiry,omitempty" json:"algorithmExpiry,omitempty"`
	// MinKeySize maps public key algorithms to their minimum size in bits.
	MinKeySize map[string]int `yaml:"minKeySize,omitempty" json:"minKeySize,omitempty"`
	// MaxAge bounds the age of time based evidence, zero disables it.
	MaxAge time.Duration `yaml:"maxAge,omitempty" json:"maxAge,omitempty"`
}

// DefaultCorroborate lists the sub-indications a proof of existence may
// clear when a policy does not say otherwise.
var DefaultCorroborate = []ades.SubIndication{
	ades.SubRevokedNoPOE,
	ades.SubOutOfBoundsNoPOE,
	ades.SubCryptoConstraintsFailureNoPOE,
}

// Policy is a lookup table of constraints. A nil or empty policy
// constrains nothing.
type Policy struct {
	Name        string
	Constraints map[string]*Constraint
	// Corroborate lists the INDETERMINATE sub-indications that a qualified
	// timestamp predating the failure may upgrade to VALID. Nil selects
	// DefaultCorroborate, an empty slice disables upgrades.
	Corroborate []ades.SubIndication
}

// Lookup returns the constraint defined for name.
func (p *Policy) Lookup(name string) (*Constraint, bool) {
	if p == nil || p.Constraints == nil {
		return nil, false
	}
	c, ok := p.Constraints[name]
	return c, ok && c != nil
}

// Corroborates reports whether sub may be cleared by proof of existence.
func (p *Policy) Corroborates(sub ades.SubIndication) bool {
	list := DefaultCorroborate
	if p != nil && p.Corroborate != nil {
		list = p.Corroborate
	}
	for _, s := range list {
		if s == sub {
			return true
		}
	}
	return false
}

// DefaultPolicy returns the policy used when none is configured. Every
// long-term validation stage is enforced; of the acceptance constraints
// only cryptographic strength is mandatory.
func DefaultPolicy() *Policy {
	mandatory := func() *Constraint { return &Constraint{Mandatory: true} }
	return &Policy{
		Name: "default",
		Constraints: map[string]*Constraint{
			ConstraintSigningTime: {},
			ConstraintCryptoStrength: {
				Mandatory: true,
				Expected: []string{
					crypto.SHA256.String(), crypto.SHA384.String(), crypto.SHA512.String(),
					"RSA", "ECDSA", "Ed25519",
				},
				AlgorithmExpiry: map[string]time.Time{
					crypto.SHA1.String(): time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC),
					crypto.MD5.String():  time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC),
				},
				MinKeySize: map[string]int{"RSA": 2048, "ECDSA": 256},
			},
			ConstraintSigningCertificate:  mandatory(),
			ConstraintSignatureIntact:     mandatory(),
			ConstraintTrustAnchor:         mandatory(),
			ConstraintChainSignatures:     mandatory(),
			ConstraintKeyUsage:            {Mandatory: true, Expected: []string{string(KeyUsageDigitalSignature), string(KeyUsageContentCommitment)}},
			ConstraintCertificateValidity: mandatory(),
			ConstraintRevocationStatus:    mandatory(),
			ConstraintRevocationFreshness: mandatory(),
			ConstraintTimestampImprint:    mandatory(),
			ConstraintTimestampOrder:      mandatory(),
		},
	}
}
