package validation

import (
	"crypto"
	"strconv"
	"strings"
	"time"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
	"github.com/georgepadayatti/sigvalidate/sign/ades"
)

// noAttributes stands in when evidence carries no signature attributes.
type noAttributes struct{}

func (noAttributes) ContentHints() string         { return "" }
func (noAttributes) CommitmentTypes() []string    { return nil }
func (noAttributes) SignerLocation() string       { return "" }
func (noAttributes) ClaimedRoles() []string       { return nil }
func (noAttributes) CertifiedRoles() []string     { return nil }
func (noAttributes) DigestAlgorithm() crypto.Hash { return 0 }
func (noAttributes) EncryptionAlgorithm() string  { return "" }
func (noAttributes) KeySize() int                 { return 0 }
func (noAttributes) SignatureIntact() bool        { return false }

func (ev *Evidence) attributes() SignatureAttributes {
	if ev.Attributes == nil {
		return noAttributes{}
	}
	return ev.Attributes
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func subjectOf(tok *certvalidator.CertificateToken) string {
	return tok.Subject().String()
}

func digestName(h crypto.Hash) string {
	if h == 0 {
		return ""
	}
	return h.String()
}

// basicChecks establishes that a signing certificate is known and the
// signature value verified.
func basicChecks(ev *Evidence) Chain {
	attrs := ev.attributes()
	return Chain{
		{
			Name:          ConstraintSigningCertificate,
			Indication:    ades.IndicationIndeterminate,
			SubIndication: ades.SubNoSigningCertificateFound,
			Evaluate: func(*Constraint) Outcome {
				if ev.SigningCertificate == nil {
					return Fail(ades.P("actual", "<none>"))
				}
				return Pass(ades.P("subject", subjectOf(ev.SigningCertificate)))
			},
		},
		{
			Name:          ConstraintSignatureIntact,
			Indication:    ades.IndicationInvalid,
			SubIndication: ades.SubSigCryptoFailure,
			Evaluate: func(*Constraint) Outcome {
				if !attrs.SignatureIntact() {
					return Fail(ades.P("signature", ev.SignatureID))
				}
				return Pass()
			},
		},
	}
}

// chainChecks judges the certificate chain of the signing certificate at
// the validation time.
func chainChecks(ev *Evidence) Chain {
	snap := ev.Snapshot
	chain := ev.Chain()
	signer := ev.SigningCertificate
	return Chain{
		{
			Name:          ConstraintTrustAnchor,
			Indication:    ades.IndicationIndeterminate,
			SubIndication: ades.SubNoCertificateChainFound,
			Evaluate: func(*Constraint) Outcome {
				if signer == nil {
					return Fail(ades.P("chain-length", 0))
				}
				if snap.ReachesTrustAnchor(signer) {
					return Pass(ades.P("chain-length", len(chain)), ades.P("anchor", subjectOf(chain[len(chain)-1])))
				}
				params := []ades.Param{ades.P("chain-length", len(chain))}
				for _, c := range chain {
					if snap.IsIncomplete(c) {
						params = append(params, ades.P("incomplete", subjectOf(c)))
					}
				}
				return Fail(params...)
			},
		},
		{
			Name:          ConstraintChainSignatures,
			Indication:    ades.IndicationIndeterminate,
			SubIndication: ades.SubCertificateChainGeneralFailure,
			Evaluate: func(*Constraint) Outcome {
				if signer == nil {
					return Fail(ades.P("actual", "<none>"))
				}
				for _, c := range chain {
					if c.IsTrusted() || snap.IssuerOf(c) == nil {
						continue
					}
					if !snap.IsSignatureValid(c) {
						return Fail(ades.P("certificate", subjectOf(c)))
					}
				}
				return Pass(ades.P("verified", len(chain)))
			},
		},
		{
			Name:          ConstraintKeyUsage,
			Indication:    ades.IndicationIndeterminate,
			SubIndication: ades.SubChainConstraintsFailure,
			Evaluate: func(c *Constraint) Outcome {
				if signer == nil {
					return Fail(ades.P("actual", "<none>"))
				}
				cert := signer.Certificate()
				if cert.KeyUsage == 0 {
					return Pass(ades.P("actual", "<unrestricted>"))
				}
				actual := keyUsagesOf(cert)
				want := *c
				want.Expected = normalizeKeyUsages(c.Expected, parseKeyUsageName)
				if !matchValues(actual, &want) {
					return Fail(valueParams(actual, &want)...)
				}
				return Pass(valueParams(actual, &want)...)
			},
		},
		{
			Name:          ConstraintExtendedKeyUsage,
			Indication:    ades.IndicationIndeterminate,
			SubIndication: ades.SubChainConstraintsFailure,
			Evaluate: func(c *Constraint) Outcome {
				if signer == nil {
					return Fail(ades.P("actual", "<none>"))
				}
				actual := extKeyUsagesOf(signer.Certificate())
				if len(actual) == 0 && len(signer.Certificate().UnknownExtKeyUsage) == 0 {
					return Pass(ades.P("actual", "<unrestricted>"))
				}
				want := *c
				want.Expected = normalizeKeyUsages(c.Expected, parseExtKeyUsageName)
				for _, a := range actual {
					if a == string(ExtKeyUsageAny) {
						return Pass(valueParams(actual, &want)...)
					}
				}
				if !matchValues(actual, &want) {
					return Fail(valueParams(actual, &want)...)
				}
				return Pass(valueParams(actual, &want)...)
			},
		},
		{
			Name:          ConstraintCertificateValidity,
			Indication:    ades.IndicationIndeterminate,
			SubIndication: ades.SubOutOfBoundsNoPOE,
			Evaluate: func(*Constraint) Outcome {
				if signer == nil {
					return Fail(ades.P("actual", "<none>"))
				}
				cert := signer.Certificate()
				params := []ades.Param{
					ades.P("not-before", formatTime(cert.NotBefore)),
					ades.P("not-after", formatTime(cert.NotAfter)),
				}
				switch {
				case ev.ValidationTime.Before(cert.NotBefore):
					return Fail(params...).As(ades.SubNotYetValid)
				case ev.ValidationTime.After(cert.NotAfter):
					return Fail(params...).Until(cert.NotAfter)
				}
				return Pass(params...)
			},
		},
		{
			Name:          ConstraintRevocationStatus,
			Indication:    ades.IndicationIndeterminate,
			SubIndication: ades.SubRevokedNoPOE,
			Evaluate: func(*Constraint) Outcome {
				if signer == nil {
					return Fail(ades.P("actual", "<none>"))
				}
				for i, c := range chain {
					if c.IsTrusted() {
						continue
					}
					rt := revocationVerdict(snap, c)
					if rt == nil {
						continue
					}
					switch rt.Status() {
					case certvalidator.StatusRevoked:
						params := []ades.Param{
							ades.P("certificate", subjectOf(c)),
							ades.P("revoked-at", formatTime(rt.RevocationDate())),
							ades.P("reason", rt.Reason()),
						}
						out := Fail(params...).Until(rt.RevocationDate())
						if i > 0 {
							out = out.As(ades.SubRevokedCANoPOE)
						}
						return out
					case certvalidator.StatusUnknown:
						if rt == snap.RevocationFor(c) {
							return Fail(ades.P("certificate", subjectOf(c)), ades.P("status", rt.Status())).
								As(ades.SubCertificateChainGeneralFailure)
						}
					}
				}
				return Pass()
			},
		},
	}
}

// revocationVerdict picks the token that decides the status of c: any
// revocation claim among the collected tokens, else the fresh winner.
func revocationVerdict(snap *certvalidator.Snapshot, c *certvalidator.CertificateToken) *certvalidator.RevocationToken {
	for _, rt := range snap.RevocationsFor(c) {
		if rt.Status() == certvalidator.StatusRevoked && rt.IsSignatureValid() {
			return rt
		}
	}
	return snap.RevocationFor(c)
}

// acceptanceChecks compares the signed attributes against the policy.
func acceptanceChecks(ev *Evidence) Chain {
	attrs := ev.attributes()
	match := func(name string, actual func() []string) Check {
		return Check{
			Name:          name,
			Indication:    ades.IndicationInvalid,
			SubIndication: ades.SubSigConstraintsFailure,
			Evaluate: func(c *Constraint) Outcome {
				values := actual()
				if !matchValues(values, c) {
					return Fail(valueParams(values, c)...)
				}
				return Pass(valueParams(values, c)...)
			},
		}
	}
	return Chain{
		{
			Name:          ConstraintSigningTime,
			Indication:    ades.IndicationInvalid,
			SubIndication: ades.SubSigConstraintsFailure,
			Evaluate: func(*Constraint) Outcome {
				if ev.SigningTime.IsZero() {
					return Fail(ades.P("actual", "<none>"))
				}
				return Pass(ades.P("actual", formatTime(ev.SigningTime)))
			},
		},
		match(ConstraintContentHints, func() []string { return single(attrs.ContentHints()) }),
		{
			Name:          ConstraintCommitmentType,
			Indication:    ades.IndicationInvalid,
			SubIndication: ades.SubSigConstraintsFailure,
			Evaluate: func(c *Constraint) Outcome {
				actual := normalizeCommitments(attrs.CommitmentTypes())
				want := *c
				want.Expected = normalizeCommitments(c.Expected)
				if !matchValues(actual, &want) {
					return Fail(valueParams(actual, &want)...)
				}
				return Pass(valueParams(actual, &want)...)
			},
		},
		match(ConstraintSignerLocation, func() []string { return single(attrs.SignerLocation()) }),
		{
			Name:          ConstraintContentTimestamp,
			Indication:    ades.IndicationInvalid,
			SubIndication: ades.SubSigConstraintsFailure,
			Evaluate: func(*Constraint) Outcome {
				n := len(ev.ContentTimestamps)
				if n == 0 {
					return Fail(ades.P("actual", 0))
				}
				return Pass(ades.P("actual", n))
			},
		},
		match(ConstraintClaimedRole, attrs.ClaimedRoles),
		match(ConstraintCertifiedRole, attrs.CertifiedRoles),
		{
			Name:          ConstraintCryptoStrength,
			Indication:    ades.IndicationIndeterminate,
			SubIndication: ades.SubCryptoConstraintsFailureNoPOE,
			Evaluate: func(c *Constraint) Outcome {
				return cryptoStrength(attrs, ev.ValidationTime, c)
			},
		},
	}
}

func normalizeCommitments(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if ct, err := ades.ParseCommitmentType(v); err == nil {
			out[i] = ct.String()
		} else {
			out[i] = v
		}
	}
	return out
}

func cryptoStrength(attrs SignatureAttributes, at time.Time, c *Constraint) Outcome {
	digest := digestName(attrs.DigestAlgorithm())
	enc := attrs.EncryptionAlgorithm()
	size := attrs.KeySize()
	params := []ades.Param{
		ades.P("digest", joinValues(single(digest))),
		ades.P("encryption", joinValues(single(enc))),
		ades.P("key-size", size),
	}
	if len(c.Expected) > 0 {
		for _, alg := range []string{digest, enc} {
			if alg == "" || !containsFold(c.Expected, alg) {
				return Fail(append(params, ades.P("expected", joinValues(c.Expected)))...)
			}
		}
	}
	for alg, minSize := range c.MinKeySize {
		if strings.EqualFold(alg, enc) && size < minSize {
			return Fail(append(params, ades.P("min-key-size", strconv.Itoa(minSize)))...)
		}
	}
	var deadline time.Time
	for alg, expiry := range c.AlgorithmExpiry {
		if alg == "" || !(strings.EqualFold(alg, digest) || strings.EqualFold(alg, enc)) {
			continue
		}
		if !at.Before(expiry) && (deadline.IsZero() || expiry.Before(deadline)) {
			deadline = expiry
		}
	}
	if !deadline.IsZero() {
		return Fail(params...).Until(deadline)
	}
	return Pass(params...)
}

func single(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if v == "*" || strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// freshnessChecks requires fresh, verified revocation data for every
// certificate of the chain that is neither trusted nor self-signed.
func freshnessChecks(ev *Evidence) Chain {
	snap := ev.Snapshot
	return Chain{{
		Name:          ConstraintRevocationFreshness,
		Indication:    ades.IndicationIndeterminate,
		SubIndication: ades.SubTryLater,
		Evaluate: func(c *Constraint) Outcome {
			chain := ev.Chain()
			if len(chain) == 0 {
				return Fail(ades.P("actual", "<none>"))
			}
			checked := 0
			for _, cert := range chain {
				if cert.IsTrusted() || cert.IsSelfSigned() {
					continue
				}
				rt := snap.RevocationFor(cert)
				if rt == nil {
					return Fail(ades.P("certificate", subjectOf(cert)), ades.P("actual", "<none>"))
				}
				if !rt.IsSignatureValid() {
					return Fail(ades.P("certificate", subjectOf(cert)), ades.P("revocation", rt.ID()),
						ades.P("signature", "invalid"))
				}
				if c.MaxAge > 0 && ev.ValidationTime.Sub(rt.ThisUpdate()) > c.MaxAge {
					return Fail(ades.P("certificate", subjectOf(cert)), ades.P("this-update", formatTime(rt.ThisUpdate())),
						ades.P("max-age", c.MaxAge))
				}
				checked++
			}
			return Pass(ades.P("checked", checked))
		},
	}}
}

// timestampChecks verifies the imprints of every timestamp and their
// chronological order: content before signature before archive.
func timestampChecks(ev *Evidence) Chain {
	return Chain{
		{
			Name:          ConstraintTimestampImprint,
			Indication:    ades.IndicationInvalid,
			SubIndication: ades.SubHashFailure,
			Evaluate: func(*Constraint) Outcome {
				all := ev.Timestamps()
				for _, ts := range all {
					if !ts.ImprintValid {
						return Fail(ades.P("timestamp", ts.Token.ID()), ades.P("type", ts.Token.Type()))
					}
				}
				return Pass(ades.P("count", len(all)))
			},
		},
		{
			Name:          ConstraintTimestampOrder,
			Indication:    ades.IndicationIndeterminate,
			SubIndication: ades.SubTimestampOrderFailure,
			Evaluate: func(*Constraint) Outcome {
				groups := [][]certvalidator.TimestampStatus{ev.ContentTimestamps, ev.SignatureTimestamps, ev.ArchiveTimestamps}
				for i := 0; i < len(groups); i++ {
					for j := i + 1; j < len(groups); j++ {
						for _, early := range groups[i] {
							for _, late := range groups[j] {
								if late.Token.GenTime().Before(early.Token.GenTime()) {
									return Fail(
										ades.P("earlier", early.Token.ID()),
										ades.P("later", late.Token.ID()),
									)
								}
							}
						}
					}
				}
				return Pass()
			},
		},
	}
}
