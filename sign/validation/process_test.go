package validation

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
	"github.com/georgepadayatti/sigvalidate/certvalidator/revinfo"
	"github.com/georgepadayatti/sigvalidate/internal/testpki"
	"github.com/georgepadayatti/sigvalidate/sign/ades"
)

func states(r *Result) []State {
	out := make([]State, 0, len(r.Transitions))
	for _, tr := range r.Transitions {
		out = append(out, tr.To)
	}
	return out
}

func TestProcessValidSignature(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")
	ev := p.evidence(t, p.signature(t, "sig-1", leaf))

	res := NewProcess().Run(DefaultPolicy(), ev)

	require.True(t, res.Conclusion.IsValid(), "conclusion: %s %v", res.Conclusion, res.Conclusion.Explanations())
	assert.Equal(t, StateLTVChecked, res.State)
	assert.Equal(t, []State{StateBasicChecked, StateChainChecked, StateCryptoChecked, StateLTVChecked}, states(res))
	for _, tr := range res.Transitions {
		assert.Equal(t, ades.IndicationValid, tr.Indication)
	}
	assert.Equal(t, p.now, res.BestSignatureTime)
	_, params := findExplanation(t, res, entryBestSignatureTime)
	assert.Equal(t, "validation-time", params["source"])
}

func TestProcessEmptyPolicyIsValid(t *testing.T) {
	p := newPKI(t)
	stranger := testpki.NewRoot(t, "Unknown Root").NewLeaf(t, "Nobody")
	ev := p.evidence(t, p.signature(t, "sig-1", stranger, func(s *testSignature) {
		s.intact = false
		s.digest = crypto.MD5
		s.signingTime = time.Time{}
	}))

	for name, policy := range map[string]*Policy{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			res := NewProcess().Run(policy, ev)
			assert.True(t, res.Conclusion.IsValid())
			assert.Equal(t, ades.IndicationValid, res.Indication())
			assert.Equal(t, StateLTVChecked, res.State)
		})
	}
}

func TestProcessIncompleteChainIsIndeterminate(t *testing.T) {
	p := newPKI(t)
	stranger := testpki.NewRoot(t, "Unknown Root").NewLeaf(t, "Nobody")
	ev := p.evidence(t, p.signature(t, "sig-1", stranger))

	require.Len(t, ev.Snapshot.ProcessedCertificates(), 1)
	require.Len(t, ev.Snapshot.IncompleteChains(), 1)

	res := NewProcess().Run(DefaultPolicy(), ev)

	assert.Equal(t, ades.IndicationIndeterminate, res.Conclusion.Indication())
	assert.Equal(t, ades.SubNoCertificateChainFound, res.Conclusion.SubIndication())
	status, params := findExplanation(t, res, ConstraintTrustAnchor)
	assert.Equal(t, string(ades.StatusFailed), status)
	assert.Contains(t, params["incomplete"], "Nobody")
}

func TestProcessInvalidFreezes(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")
	ev := p.evidence(t, p.signature(t, "sig-1", leaf, func(s *testSignature) { s.intact = false }))

	res := NewProcess().Run(DefaultPolicy(), ev)

	assert.Equal(t, ades.IndicationInvalid, res.Conclusion.Indication())
	assert.Equal(t, ades.SubSigCryptoFailure, res.Conclusion.SubIndication())
	assert.Equal(t, []Transition{
		{From: StateNotStarted, To: StateBasicChecked, Indication: ades.IndicationInvalid},
		{From: StateBasicChecked, To: StateLTVChecked, Indication: ades.IndicationInvalid},
	}, res.Transitions)
	assert.True(t, res.BestSignatureTime.IsZero())
	_, ok := res.Conclusion.Explanation(ConstraintTrustAnchor)
	assert.False(t, ok, "chain checks must not run after INVALID")
}

func TestProcessMissingSigningCertificate(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")
	ev := p.evidence(t, p.signature(t, "sig-1", leaf, func(s *testSignature) { s.signer = nil }))

	res := NewProcess().Run(DefaultPolicy(), ev)

	assert.Equal(t, ades.IndicationIndeterminate, res.Conclusion.Indication())
	assert.Equal(t, ades.SubNoSigningCertificateFound, res.Conclusion.SubIndication())
}

func TestProcessRevokedSigner(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")
	revokedAt := p.now.Add(-2 * time.Minute)
	revoked := func(s *testSignature) { s.revs = p.crl(t, p.now.Add(-time.Minute), leaf.Cert) }

	t.Run("no proof of existence", func(t *testing.T) {
		ev := p.evidence(t, p.signature(t, "sig-1", leaf, revoked))
		res := NewProcess().Run(DefaultPolicy(), ev)

		assert.Equal(t, ades.IndicationIndeterminate, res.Conclusion.Indication())
		assert.Equal(t, ades.SubRevokedNoPOE, res.Conclusion.SubIndication())
		status, params := findExplanation(t, res, entryPOECorroboration)
		assert.Equal(t, string(ades.StatusFailed), status)
		assert.Equal(t, ConstraintRevocationStatus, params["constraint"])
		assert.Equal(t, revokedAt.Format(time.RFC3339), params["poe-deadline"])
	})

	t.Run("timestamp before revocation", func(t *testing.T) {
		genTime := p.now.Add(-30 * time.Minute)
		ts := p.timestamp(t, "ts-1", certvalidator.TimestampSignature, genTime, true)
		ev := p.evidence(t, p.signature(t, "sig-1", leaf, revoked, withTimestamps(ts)))
		res := NewProcess().Run(DefaultPolicy(), ev)

		require.True(t, res.Conclusion.IsValid(), "conclusion: %s %v", res.Conclusion, res.Conclusion.Explanations())
		assert.Equal(t, []Transition{
			{From: StateNotStarted, To: StateBasicChecked, Indication: ades.IndicationValid},
			{From: StateBasicChecked, To: StateChainChecked, Indication: ades.IndicationIndeterminate},
			{From: StateChainChecked, To: StateCryptoChecked, Indication: ades.IndicationIndeterminate},
			{From: StateCryptoChecked, To: StateLTVChecked, Indication: ades.IndicationValid},
		}, res.Transitions)
		status, params := findExplanation(t, res, entryPOECorroboration)
		assert.Equal(t, string(ades.StatusPassed), status)
		assert.Equal(t, "ts-1", params["poe-source"])
		assert.Equal(t, genTime, res.BestSignatureTime)
	})

	t.Run("timestamp after revocation", func(t *testing.T) {
		ts := p.timestamp(t, "ts-1", certvalidator.TimestampSignature, p.now.Add(-30*time.Second), true)
		ev := p.evidence(t, p.signature(t, "sig-1", leaf, revoked, withTimestamps(ts)))
		res := NewProcess().Run(DefaultPolicy(), ev)

		assert.Equal(t, ades.IndicationIndeterminate, res.Conclusion.Indication())
		assert.Equal(t, ades.SubRevokedNoPOE, res.Conclusion.SubIndication())
	})

	t.Run("timestamp from impostor root", func(t *testing.T) {
		impostor := testpki.NewRoot(t, "Test Root CA")
		tsa := impostor.NewLeaf(t, "Forged TSA")
		ts := timestampBy(t, tsa, "ts-1", certvalidator.TimestampSignature, p.now.Add(-30*time.Minute), true)
		ev := p.evidence(t, p.signature(t, "sig-1", leaf, revoked, withTimestamps(ts)))
		require.Len(t, ev.SignatureTimestamps, 1)
		assert.False(t, ev.Qualified(ev.SignatureTimestamps[0]))
		res := NewProcess().Run(DefaultPolicy(), ev)

		assert.Equal(t, ades.IndicationIndeterminate, res.Conclusion.Indication())
		assert.Equal(t, ades.SubRevokedNoPOE, res.Conclusion.SubIndication())
	})

	t.Run("revoked timestamping authority", func(t *testing.T) {
		ts := p.timestamp(t, "ts-1", certvalidator.TimestampSignature, p.now.Add(-30*time.Minute), true)
		ev := p.evidence(t, p.signature(t, "sig-1", leaf, withTimestamps(ts), func(s *testSignature) {
			s.revs = p.crl(t, p.now.Add(-time.Minute), leaf.Cert, p.tsa.Cert)
		}))
		require.Len(t, ev.SignatureTimestamps, 1)
		assert.False(t, ev.Qualified(ev.SignatureTimestamps[0]))
		res := NewProcess().Run(DefaultPolicy(), ev)

		assert.Equal(t, ades.IndicationIndeterminate, res.Conclusion.Indication())
		assert.Equal(t, ades.SubRevokedNoPOE, res.Conclusion.SubIndication())
	})

	t.Run("timestamp outside authority validity", func(t *testing.T) {
		tsa := p.root.NewLeaf(t, "Late TSA", testpki.WithValidity(p.now.Add(-10*time.Minute), p.now.Add(time.Hour)))
		ts := timestampBy(t, tsa, "ts-1", certvalidator.TimestampSignature, p.now.Add(-30*time.Minute), true)
		ev := p.evidence(t, p.signature(t, "sig-1", leaf, revoked, withTimestamps(ts)))
		require.Len(t, ev.SignatureTimestamps, 1)
		assert.False(t, ev.Qualified(ev.SignatureTimestamps[0]))
		res := NewProcess().Run(DefaultPolicy(), ev)

		assert.Equal(t, ades.SubRevokedNoPOE, res.Conclusion.SubIndication())
	})

	t.Run("corroboration disabled", func(t *testing.T) {
		ts := p.timestamp(t, "ts-1", certvalidator.TimestampSignature, p.now.Add(-30*time.Minute), true)
		ev := p.evidence(t, p.signature(t, "sig-1", leaf, revoked, withTimestamps(ts)))
		policy := DefaultPolicy()
		policy.Corroborate = []ades.SubIndication{}
		res := NewProcess().Run(policy, ev)

		assert.Equal(t, ades.SubRevokedNoPOE, res.Conclusion.SubIndication())
		_, ok := res.Conclusion.Explanation(entryPOECorroboration)
		assert.False(t, ok)
	})
}

func TestProcessRevokedIntermediate(t *testing.T) {
	p := newPKI(t)
	inter := p.root.NewIntermediate(t, "Issuing CA")
	leaf := inter.NewLeaf(t, "Signer")
	thisUpdate := p.now.Add(-time.Minute)
	ev := p.evidence(t, p.signature(t, "sig-1", leaf, func(s *testSignature) {
		s.certs = []*x509.Certificate{leaf.Cert, inter.Cert}
		src, err := revinfo.NewOfflineSource([][]byte{
			p.root.CRL(t, []*x509.Certificate{inter.Cert}, thisUpdate, thisUpdate.Add(time.Hour)),
			inter.CRL(t, nil, thisUpdate, thisUpdate.Add(time.Hour)),
		}, nil)
		require.NoError(t, err)
		s.revs = src
	}))

	res := NewProcess().Run(DefaultPolicy(), ev)

	assert.Equal(t, ades.IndicationIndeterminate, res.Conclusion.Indication())
	assert.Equal(t, ades.SubRevokedCANoPOE, res.Conclusion.SubIndication())
}

func TestProcessExpiredSigner(t *testing.T) {
	p := newPKI(t)
	notAfter := p.now.Add(-24 * time.Hour)
	leaf := p.root.NewLeaf(t, "Signer", testpki.WithValidity(p.now.Add(-72*time.Hour), notAfter))

	ev := p.evidence(t, p.signature(t, "sig-1", leaf))
	res := NewProcess().Run(DefaultPolicy(), ev)
	assert.Equal(t, ades.SubOutOfBoundsNoPOE, res.Conclusion.SubIndication())

	ts := p.timestamp(t, "ts-1", certvalidator.TimestampArchive, p.now.Add(-30*time.Hour), true)
	ev = p.evidence(t, p.signature(t, "sig-1", leaf, withTimestamps(ts)))
	res = NewProcess().Run(DefaultPolicy(), ev)
	assert.True(t, res.Conclusion.IsValid(), "conclusion: %s %v", res.Conclusion, res.Conclusion.Explanations())
}

func TestProcessNotYetValidSigner(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer", testpki.WithValidity(p.now.Add(time.Hour), p.now.Add(48*time.Hour)))
	ev := p.evidence(t, p.signature(t, "sig-1", leaf))

	res := NewProcess().Run(DefaultPolicy(), ev)

	assert.Equal(t, ades.SubNotYetValid, res.Conclusion.SubIndication())
}

func TestProcessCryptoExpiry(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")
	policy := &Policy{Constraints: map[string]*Constraint{
		ConstraintCryptoStrength: {
			Mandatory:       true,
			AlgorithmExpiry: map[string]time.Time{crypto.SHA1.String(): p.now.Add(-time.Hour)},
		},
	}}
	sha1 := func(s *testSignature) { s.digest = crypto.SHA1 }

	res := NewProcess().Run(policy, p.evidence(t, p.signature(t, "sig-1", leaf, sha1)))
	assert.Equal(t, ades.IndicationIndeterminate, res.Conclusion.Indication())
	assert.Equal(t, ades.SubCryptoConstraintsFailureNoPOE, res.Conclusion.SubIndication())

	ts := p.timestamp(t, "ts-1", certvalidator.TimestampSignature, p.now.Add(-2*time.Hour), true)
	res = NewProcess().Run(policy, p.evidence(t, p.signature(t, "sig-1", leaf, sha1, withTimestamps(ts))))
	assert.True(t, res.Conclusion.IsValid())
}

func TestProcessCryptoStrength(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")
	tests := []struct {
		name string
		mod  func(*testSignature)
		ok   bool
	}{
		{"acceptable", func(*testSignature) {}, true},
		{"digest not allowed", func(s *testSignature) { s.digest = crypto.SHA1 }, false},
		{"digest missing", func(s *testSignature) { s.digest = 0 }, false},
		{"short key", func(s *testSignature) { s.enc, s.keySize = "RSA", 1024 }, false},
		{"long key", func(s *testSignature) { s.enc, s.keySize = "RSA", 3072 }, true},
		{"unknown algorithm", func(s *testSignature) { s.enc = "DSA" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewProcess().Run(DefaultPolicy(), p.evidence(t, p.signature(t, "sig-1", leaf, tt.mod)))
			if tt.ok {
				assert.True(t, res.Conclusion.IsValid(), "conclusion: %s", res.Conclusion)
				return
			}
			assert.Equal(t, ades.SubCryptoConstraintsFailureNoPOE, res.Conclusion.SubIndication())
		})
	}
}

func TestProcessAcceptanceConstraints(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")
	tests := []struct {
		name       string
		constraint string
		c          Constraint
		mod        func(*testSignature)
		ok         bool
	}{
		{"signing time present", ConstraintSigningTime, Constraint{}, nil, true},
		{"signing time missing", ConstraintSigningTime, Constraint{}, func(s *testSignature) { s.signingTime = time.Time{} }, false},
		{"content hints", ConstraintContentHints, Constraint{Expected: []string{"text/plain"}}, func(s *testSignature) { s.hints = "text/plain" }, true},
		{"content hints mismatch", ConstraintContentHints, Constraint{Expected: []string{"text/plain"}}, func(s *testSignature) { s.hints = "application/pdf" }, false},
		{"commitment by oid", ConstraintCommitmentType, Constraint{Expected: []string{"proof_of_origin"}}, func(s *testSignature) { s.commitments = []string{ades.OIDProofOfOrigin.String()} }, true},
		{"commitment mismatch", ConstraintCommitmentType, Constraint{Expected: []string{"proof_of_approval"}}, func(s *testSignature) { s.commitments = []string{"proof_of_origin"} }, false},
		{"signer location", ConstraintSignerLocation, Constraint{}, func(s *testSignature) { s.location = "Tallinn" }, true},
		{"signer location missing", ConstraintSignerLocation, Constraint{}, nil, false},
		{"content timestamp missing", ConstraintContentTimestamp, Constraint{}, nil, false},
		{"claimed role", ConstraintClaimedRole, Constraint{Expected: []string{"director", "cfo"}, MatchAll: true}, func(s *testSignature) { s.claimedRoles = []string{"CFO", "Director"} }, true},
		{"certified role missing", ConstraintCertifiedRole, Constraint{Expected: []string{"notary"}}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.c
			c.Mandatory = true
			mods := []func(*testSignature){}
			if tt.mod != nil {
				mods = append(mods, tt.mod)
			}
			ev := p.evidence(t, p.signature(t, "sig-1", leaf, mods...))
			res := NewProcess().Run(&Policy{Constraints: map[string]*Constraint{tt.constraint: &c}}, ev)
			if tt.ok {
				assert.True(t, res.Conclusion.IsValid(), "conclusion: %s %v", res.Conclusion, res.Conclusion.Explanations())
				return
			}
			assert.Equal(t, ades.IndicationInvalid, res.Conclusion.Indication())
			assert.Equal(t, ades.SubSigConstraintsFailure, res.Conclusion.SubIndication())
			status, _ := findExplanation(t, res, tt.constraint)
			assert.Equal(t, string(ades.StatusFailed), status)
		})
	}
}

func TestProcessContentTimestampPresence(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")
	ts := p.timestamp(t, "content", certvalidator.TimestampContent, p.now.Add(-time.Hour), true)
	ev := p.evidence(t, p.signature(t, "sig-1", leaf, withTimestamps(ts)))

	res := NewProcess().Run(&Policy{Constraints: map[string]*Constraint{
		ConstraintContentTimestamp: {Mandatory: true},
	}}, ev)

	assert.True(t, res.Conclusion.IsValid())
}

func TestProcessTimestampChecks(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")

	t.Run("broken imprint", func(t *testing.T) {
		ts := p.timestamp(t, "ts-1", certvalidator.TimestampSignature, p.now.Add(-time.Hour), false)
		res := NewProcess().Run(DefaultPolicy(), p.evidence(t, p.signature(t, "sig-1", leaf, withTimestamps(ts))))
		assert.Equal(t, ades.IndicationInvalid, res.Conclusion.Indication())
		assert.Equal(t, ades.SubHashFailure, res.Conclusion.SubIndication())
		assert.Equal(t, StateLTVChecked, res.State)
	})

	t.Run("content after signature timestamp", func(t *testing.T) {
		content := p.timestamp(t, "content", certvalidator.TimestampContent, p.now.Add(-time.Minute), true)
		signature := p.timestamp(t, "signature", certvalidator.TimestampSignature, p.now.Add(-time.Hour), true)
		res := NewProcess().Run(DefaultPolicy(), p.evidence(t, p.signature(t, "sig-1", leaf, withTimestamps(content, signature))))
		assert.Equal(t, ades.IndicationIndeterminate, res.Conclusion.Indication())
		assert.Equal(t, ades.SubTimestampOrderFailure, res.Conclusion.SubIndication())
	})

	t.Run("ordered", func(t *testing.T) {
		content := p.timestamp(t, "content", certvalidator.TimestampContent, p.now.Add(-2*time.Hour), true)
		signature := p.timestamp(t, "signature", certvalidator.TimestampSignature, p.now.Add(-time.Hour), true)
		archive := p.timestamp(t, "archive", certvalidator.TimestampArchive, p.now.Add(-time.Minute), true)
		res := NewProcess().Run(DefaultPolicy(), p.evidence(t, p.signature(t, "sig-1", leaf, withTimestamps(content, signature, archive))))
		assert.True(t, res.Conclusion.IsValid(), "conclusion: %s %v", res.Conclusion, res.Conclusion.Explanations())
		assert.Equal(t, p.now.Add(-time.Hour), res.BestSignatureTime)
	})
}

func TestProcessRevocationFreshness(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")

	t.Run("no revocation data", func(t *testing.T) {
		ev := p.evidence(t, p.signature(t, "sig-1", leaf, func(s *testSignature) { s.revs = nil }))
		res := NewProcess().Run(DefaultPolicy(), ev)
		assert.Equal(t, ades.IndicationIndeterminate, res.Conclusion.Indication())
		assert.Equal(t, ades.SubTryLater, res.Conclusion.SubIndication())
	})

	t.Run("stale revocation data", func(t *testing.T) {
		ev := p.evidence(t, p.signature(t, "sig-1", leaf, func(s *testSignature) {
			s.revs = p.crl(t, p.now.Add(-5*time.Hour))
		}))
		require.Nil(t, ev.Snapshot.RevocationFor(ev.SigningCertificate))
		res := NewProcess().Run(DefaultPolicy(), ev)
		assert.Equal(t, ades.SubTryLater, res.Conclusion.SubIndication())
	})

	t.Run("too old for policy", func(t *testing.T) {
		ev := p.evidence(t, p.signature(t, "sig-1", leaf, func(s *testSignature) {
			s.revs = p.crl(t, p.now.Add(-90*time.Minute))
		}))
		policy := DefaultPolicy()
		policy.Constraints[ConstraintRevocationFreshness].MaxAge = time.Hour
		res := NewProcess().Run(policy, ev)
		assert.Equal(t, ades.SubTryLater, res.Conclusion.SubIndication())

		res = NewProcess().Run(DefaultPolicy(), ev)
		assert.True(t, res.Conclusion.IsValid())
	})
}

func TestProcessKeyUsage(t *testing.T) {
	p := newPKI(t)
	encipher := p.root.NewLeaf(t, "Encipher Only", func(c *x509.Certificate) {
		c.KeyUsage = x509.KeyUsageKeyEncipherment
	})
	res := NewProcess().Run(DefaultPolicy(), p.evidence(t, p.signature(t, "sig-1", encipher)))
	assert.Equal(t, ades.SubChainConstraintsFailure, res.Conclusion.SubIndication())

	docSigner := p.root.NewLeaf(t, "Document Signer", func(c *x509.Certificate) {
		c.UnknownExtKeyUsage = []asn1.ObjectIdentifier{OIDExtKeyUsageDocumentSigning}
	})
	policy := DefaultPolicy()
	policy.Constraints[ConstraintExtendedKeyUsage] = &Constraint{Mandatory: true, Expected: []string{"documentSigning"}}
	res = NewProcess().Run(policy, p.evidence(t, p.signature(t, "sig-1", docSigner)))
	assert.True(t, res.Conclusion.IsValid(), "conclusion: %s %v", res.Conclusion, res.Conclusion.Explanations())

	tlsOnly := p.root.NewLeaf(t, "TLS", func(c *x509.Certificate) {
		c.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	})
	res = NewProcess().Run(policy, p.evidence(t, p.signature(t, "sig-1", tlsOnly)))
	assert.Equal(t, ades.SubChainConstraintsFailure, res.Conclusion.SubIndication())
}

func TestProcessIsIdempotent(t *testing.T) {
	p := newPKI(t)
	leaf := p.root.NewLeaf(t, "Signer")
	ts := p.timestamp(t, "ts-1", certvalidator.TimestampSignature, p.now.Add(-30*time.Minute), true)
	ev := p.evidence(t, p.signature(t, "sig-1", leaf, withTimestamps(ts), func(s *testSignature) {
		s.revs = p.crl(t, p.now.Add(-time.Minute), leaf.Cert)
	}))
	policy := DefaultPolicy()

	proc := NewProcess()
	first := proc.Run(policy, ev)
	second := proc.Run(policy, ev)
	third := NewProcess().Run(policy, ev)

	opt := cmp.AllowUnexported(ades.Conclusion{})
	if diff := cmp.Diff(first, second, opt); diff != "" {
		t.Errorf("rerun on the same process differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first, third, opt); diff != "" {
		t.Errorf("run on a new process differs (-first +third):\n%s", diff)
	}
}
