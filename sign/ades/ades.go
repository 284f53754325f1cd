// Package ades defines the verdict vocabulary of AdES signature validation:
// indications, sub-indications and the immutable Conclusion built for each
// signature.
package ades

import (
	"encoding/asn1"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrUnknownIndication    = errors.New("unknown indication")
	ErrUnknownSubIndication = errors.New("unknown sub-indication")
	ErrSubIndicationMissing = errors.New("non-VALID conclusion requires a sub-indication")
	ErrSubIndicationOnValid = errors.New("VALID conclusion cannot carry a sub-indication")
	ErrInvalidCommitment    = errors.New("invalid commitment type")
	ErrConclusionNotEmpty   = errors.New("conclusion already decided")
)

// Indication is the top level verdict of ETSI EN 319 102-1.
type Indication string

const (
	IndicationValid         Indication = "VALID"
	IndicationInvalid       Indication = "INVALID"
	IndicationIndeterminate Indication = "INDETERMINATE"
)

// ParseIndication parses the string form of an indication.
func ParseIndication(s string) (Indication, error) {
	switch ind := Indication(strings.ToUpper(strings.TrimSpace(s))); ind {
	case IndicationValid, IndicationInvalid, IndicationIndeterminate:
		return ind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIndication, s)
}

// SubIndication refines a non-VALID indication.
type SubIndication string

const (
	SubFormatFailure                  SubIndication = "FORMAT_FAILURE"
	SubHashFailure                    SubIndication = "HASH_FAILURE"
	SubSigCryptoFailure               SubIndication = "SIG_CRYPTO_FAILURE"
	SubRevoked                        SubIndication = "REVOKED"
	SubExpired                        SubIndication = "EXPIRED"
	SubNotYetValid                    SubIndication = "NOT_YET_VALID"
	SubSigConstraintsFailure          SubIndication = "SIG_CONSTRAINTS_FAILURE"
	SubChainConstraintsFailure        SubIndication = "CHAIN_CONSTRAINTS_FAILURE"
	SubCertificateChainGeneralFailure SubIndication = "CERTIFICATE_CHAIN_GENERAL_FAILURE"
	SubCryptoConstraintsFailure       SubIndication = "CRYPTO_CONSTRAINTS_FAILURE"
	SubPolicyProcessingError          SubIndication = "POLICY_PROCESSING_ERROR"
	SubTimestampOrderFailure          SubIndication = "TIMESTAMP_ORDER_FAILURE"
	SubNoSigningCertificateFound      SubIndication = "NO_SIGNING_CERTIFICATE_FOUND"
	SubNoCertificateChainFound        SubIndication = "NO_CERTIFICATE_CHAIN_FOUND"
	SubRevokedNoPOE                   SubIndication = "REVOKED_NO_POE"
	SubRevokedCANoPOE                 SubIndication = "REVOKED_CA_NO_POE"
	SubOutOfBoundsNoPOE               SubIndication = "OUT_OF_BOUNDS_NO_POE"
	SubOutOfBoundsNotRevoked          SubIndication = "OUT_OF_BOUNDS_NOT_REVOKED"
	SubCryptoConstraintsFailureNoPOE  SubIndication = "CRYPTO_CONSTRAINTS_FAILURE_NO_POE"
	SubNoPOE                          SubIndication = "NO_POE"
	SubTryLater                       SubIndication = "TRY_LATER"
	SubSignedDataNotFound             SubIndication = "SIGNED_DATA_NOT_FOUND"
)

var knownSubIndications = map[SubIndication]struct{}{
	SubFormatFailure:                  {},
	SubHashFailure:                    {},
	SubSigCryptoFailure:               {},
	SubRevoked:                        {},
	SubExpired:                        {},
	SubNotYetValid:                    {},
	SubSigConstraintsFailure:          {},
	SubChainConstraintsFailure:        {},
	SubCertificateChainGeneralFailure: {},
	SubCryptoConstraintsFailure:       {},
	SubPolicyProcessingError:          {},
	SubTimestampOrderFailure:          {},
	SubNoSigningCertificateFound:      {},
	SubNoCertificateChainFound:        {},
	SubRevokedNoPOE:                   {},
	SubRevokedCANoPOE:                 {},
	SubOutOfBoundsNoPOE:               {},
	SubOutOfBoundsNotRevoked:          {},
	SubCryptoConstraintsFailureNoPOE:  {},
	SubNoPOE:                          {},
	SubTryLater:                       {},
	SubSignedDataNotFound:             {},
}

// Known reports whether s belongs to the closed set of sub-indications.
func (s SubIndication) Known() bool {
	_, ok := knownSubIndications[s]
	return ok
}

// ParseSubIndication parses the string form of a sub-indication.
func ParseSubIndication(s string) (SubIndication, error) {
	sub := SubIndication(strings.ToUpper(strings.TrimSpace(s)))
	if !sub.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSubIndication, s)
	}
	return sub, nil
}

// Status of a single explanation entry.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusWarning Status = "warning"
	StatusInfo    Status = "info"
)

// Param is one structured value of an explanation.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// P builds a Param.
func P(key string, value any) Param {
	return Param{Key: key, Value: fmt.Sprint(value)}
}

// Explanation records the outcome of one named constraint.
type Explanation struct {
	Constraint string  `json:"constraint"`
	Status     Status  `json:"status"`
	Params     []Param `json:"params,omitempty"`
}

// Param returns the value of the named parameter.
func (e Explanation) Param(key string) (string, bool) {
	for _, p := range e.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

func (e Explanation) clone() Explanation {
	e.Params = append([]Param(nil), e.Params...)
	return e
}

// Conclusion is the verdict for one signature. It cannot be modified once
// built.
type Conclusion struct {
	indication    Indication
	subIndication SubIndication
	explanations  []Explanation
}

// NewConclusion builds a conclusion. VALID must come without a
// sub-indication, every other indication with exactly one known
// sub-indication.
func NewConclusion(ind Indication, sub SubIndication, explanations ...Explanation) (*Conclusion, error) {
	switch ind {
	case IndicationValid:
		if sub != "" {
			return nil, fmt.Errorf("%w: %s", ErrSubIndicationOnValid, sub)
		}
	case IndicationInvalid, IndicationIndeterminate:
		if sub == "" {
			return nil, fmt.Errorf("%w: %s", ErrSubIndicationMissing, ind)
		}
		if !sub.Known() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSubIndication, sub)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndication, ind)
	}
	c := &Conclusion{indication: ind, subIndication: sub}
	for _, e := range explanations {
		c.explanations = append(c.explanations, e.clone())
	}
	return c, nil
}

func mustConclusion(ind Indication, sub SubIndication, explanations []Explanation) *Conclusion {
	c, err := NewConclusion(ind, sub, explanations...)
	if err != nil {
		panic(err)
	}
	return c
}

// Valid returns a VALID conclusion.
func Valid(explanations ...Explanation) *Conclusion {
	return mustConclusion(IndicationValid, "", explanations)
}

// Invalid returns an INVALID conclusion. It panics on an unknown
// sub-indication.
func Invalid(sub SubIndication, explanations ...Explanation) *Conclusion {
	return mustConclusion(IndicationInvalid, sub, explanations)
}

// Indeterminate returns an INDETERMINATE conclusion. It panics on an
// unknown sub-indication.
func Indeterminate(sub SubIndication, explanations ...Explanation) *Conclusion {
	return mustConclusion(IndicationIndeterminate, sub, explanations)
}

func (c *Conclusion) Indication() Indication       { return c.indication }
func (c *Conclusion) SubIndication() SubIndication { return c.subIndication }

// IsValid reports whether the indication is VALID.
func (c *Conclusion) IsValid() bool { return c.indication == IndicationValid }

// IsInvalid reports whether the indication is INVALID.
func (c *Conclusion) IsInvalid() bool { return c.indication == IndicationInvalid }

// IsIndeterminate reports whether the indication is INDETERMINATE.
func (c *Conclusion) IsIndeterminate() bool { return c.indication == IndicationIndeterminate }

// Explanations returns a copy of the ordered explanation entries.
func (c *Conclusion) Explanations() []Explanation {
	out := make([]Explanation, len(c.explanations))
	for i, e := range c.explanations {
		out[i] = e.clone()
	}
	return out
}

// Explanation returns the last entry recorded for constraint.
func (c *Conclusion) Explanation(constraint string) (Explanation, bool) {
	for i := len(c.explanations) - 1; i >= 0; i-- {
		if c.explanations[i].Constraint == constraint {
			return c.explanations[i].clone(), true
		}
	}
	return Explanation{}, false
}

// Warnings returns the entries with status warning.
func (c *Conclusion) Warnings() []Explanation {
	var out []Explanation
	for _, e := range c.explanations {
		if e.Status == StatusWarning {
			out = append(out, e.clone())
		}
	}
	return out
}

// With returns a copy of c with explanations appended.
func (c *Conclusion) With(explanations ...Explanation) *Conclusion {
	return mustConclusion(c.indication, c.subIndication, append(c.Explanations(), explanations...))
}

func (c *Conclusion) String() string {
	if c.subIndication == "" {
		return string(c.indication)
	}
	return string(c.indication) + "/" + string(c.subIndication)
}

type conclusionJSON struct {
	Indication    Indication    `json:"indication"`
	SubIndication SubIndication `json:"subIndication,omitempty"`
	Explanations  []Explanation `json:"explanations,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *Conclusion) MarshalJSON() ([]byte, error) {
	return json.Marshal(conclusionJSON{
		Indication:    c.indication,
		SubIndication: c.subIndication,
		Explanations:  c.explanations,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded conclusion is
// subject to the same rules as NewConclusion. Conclusions are immutable, so
// only a zero Conclusion can be decoded into.
func (c *Conclusion) UnmarshalJSON(data []byte) error {
	if c.indication != "" {
		return ErrConclusionNotEmpty
	}
	var raw conclusionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewConclusion(raw.Indication, raw.SubIndication, raw.Explanations...)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

// Commitment type OIDs from RFC 5126.
var (
	OIDProofOfOrigin   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 1}
	OIDProofOfReceipt  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 2}
	OIDProofOfDelivery = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 3}
	OIDProofOfSender   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 4}
	OIDProofOfApproval = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 5}
	OIDProofOfCreation = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 6}
)

// CommitmentType represents a signature commitment type.
type CommitmentType int

const (
	CommitmentProofOfOrigin CommitmentType = iota
	CommitmentProofOfReceipt
	CommitmentProofOfDelivery
	CommitmentProofOfSender
	CommitmentProofOfApproval
	CommitmentProofOfCreation
)

var commitmentNames = []string{
	"proof_of_origin",
	"proof_of_receipt",
	"proof_of_delivery",
	"proof_of_sender",
	"proof_of_approval",
	"proof_of_creation",
}

func (c CommitmentType) String() string {
	if c < 0 || int(c) >= len(commitmentNames) {
		return "unknown"
	}
	return commitmentNames[c]
}

// OID returns the ASN.1 OID for the commitment type.
func (c CommitmentType) OID() asn1.ObjectIdentifier {
	switch c {
	case CommitmentProofOfOrigin:
		return OIDProofOfOrigin
	case CommitmentProofOfReceipt:
		return OIDProofOfReceipt
	case CommitmentProofOfDelivery:
		return OIDProofOfDelivery
	case CommitmentProofOfSender:
		return OIDProofOfSender
	case CommitmentProofOfApproval:
		return OIDProofOfApproval
	case CommitmentProofOfCreation:
		return OIDProofOfCreation
	default:
		return nil
	}
}

// ParseCommitmentType accepts either the symbolic name or the dotted OID.
func ParseCommitmentType(s string) (CommitmentType, error) {
	s = strings.TrimSpace(s)
	for i, name := range commitmentNames {
		ct := CommitmentType(i)
		if strings.EqualFold(s, name) || s == ct.OID().String() {
			return ct, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCommitment, s)
}
