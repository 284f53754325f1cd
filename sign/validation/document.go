package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
	"github.com/georgepadayatti/sigvalidate/log"
	"github.com/georgepadayatti/sigvalidate/sign/ades"
)

// DefaultConcurrency bounds the number of signatures validated at once.
const DefaultConcurrency = 4

// SignatureResult is the outcome for one signature of a document.
type SignatureResult struct {
	ID                 string
	Conclusion         *ades.Conclusion
	BestSignatureTime  time.Time
	Transitions        []Transition
	SigningTime        time.Time
	SigningCertificate *certvalidator.CertificateToken
	Snapshot           *certvalidator.Snapshot
}

// DocumentValidator validates every signature of a document against one
// shared certificate pool.
type DocumentValidator struct {
	pool           *certvalidator.CertificatePool
	verifier       certvalidator.CertificateVerifier
	policy         *Policy
	logger         *zap.Logger
	clock          clockwork.Clock
	validationTime time.Time
	concurrency    int
}

// DocumentOption configures a DocumentValidator.
type DocumentOption func(*DocumentValidator)

// WithPolicy sets the validation policy. Nil keeps DefaultPolicy.
func WithPolicy(p *Policy) DocumentOption {
	return func(v *DocumentValidator) {
		if p != nil {
			v.policy = p
		}
	}
}

// WithDocumentLogger sets the logger. Without it the logger of the context
// passed to ValidateAll is used.
func WithDocumentLogger(logger *zap.Logger) DocumentOption {
	return func(v *DocumentValidator) { v.logger = logger }
}

// WithDocumentClock sets the clock used when no validation time is fixed.
func WithDocumentClock(clock clockwork.Clock) DocumentOption {
	return func(v *DocumentValidator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithDocumentValidationTime fixes the validation time of every signature.
func WithDocumentValidationTime(t time.Time) DocumentOption {
	return func(v *DocumentValidator) { v.validationTime = t }
}

// WithConcurrency bounds the number of parallel signature validations.
func WithConcurrency(n int) DocumentOption {
	return func(v *DocumentValidator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// NewDocumentValidator creates a validator. A nil pool gets a fresh one.
func NewDocumentValidator(pool *certvalidator.CertificatePool, verifier certvalidator.CertificateVerifier, opts ...DocumentOption) *DocumentValidator {
	if pool == nil {
		pool = certvalidator.NewCertificatePool()
	}
	v := &DocumentValidator{
		pool:        pool,
		verifier:    verifier,
		policy:      DefaultPolicy(),
		clock:       clockwork.NewRealClock(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Pool returns the shared certificate pool.
func (v *DocumentValidator) Pool() *certvalidator.CertificatePool { return v.pool }

// Policy returns the policy in use.
func (v *DocumentValidator) Policy() *Policy { return v.policy }

// ValidateAll validates sigs in parallel. Results keep the input order.
// Only structural errors are returned; missing evidence shows up in the
// conclusions.
func (v *DocumentValidator) ValidateAll(ctx context.Context, sigs []Signature) ([]*SignatureResult, error) {
	logger := v.logger
	if logger == nil {
		logger = log.FromCtx(ctx)
	}
	at := v.validationTime
	if at.IsZero() {
		at = v.clock.Now()
	}

	for i, sig := range sigs {
		if sig == nil {
			return nil, fmt.Errorf("signature %d: %w", i, certvalidator.ErrNilSignature)
		}
	}

	results := make([]*SignatureResult, len(sigs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, sig := range sigs {
		g.Go(func() error {
			res, err := v.validate(gctx, sig, at, logger.With(zap.String("signature", sig.ID())))
			if err != nil {
				return fmt.Errorf("signature %s: %w", sig.ID(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (v *DocumentValidator) validate(ctx context.Context, sig Signature, at time.Time, logger *zap.Logger) (*SignatureResult, error) {
	vc, err := certvalidator.NewValidationContext(v.pool, v.verifier,
		certvalidator.WithValidationTime(at),
		certvalidator.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if err := vc.AddSignature(sig); err != nil {
		return nil, err
	}
	if err := vc.Validate(ctx); err != nil {
		return nil, err
	}
	snap := vc.Snapshot()
	ev, err := NewEvidence(sig, snap)
	if err != nil {
		return nil, err
	}
	res := NewProcess().Run(v.policy, ev)
	logger.Info("Signature validated",
		zap.String("run", snap.RunID()),
		zap.Stringer("conclusion", res.Conclusion),
		zap.Int("certificates", len(snap.ProcessedCertificates())),
		zap.Int("soft_failures", len(snap.SoftFailures())),
	)
	return &SignatureResult{
		ID:                 sig.ID(),
		Conclusion:         res.Conclusion,
		BestSignatureTime:  res.BestSignatureTime,
		Transitions:        res.Transitions,
		SigningTime:        ev.SigningTime,
		SigningCertificate: ev.SigningCertificate,
		Snapshot:           snap,
	}, nil
}

// BuildReport assembles the report of a document from its results.
func BuildReport(results []*SignatureResult, policy *Policy, validationTime time.Time) *ades.Report {
	report := ades.NewReport(uuid.NewString(), validationTime)
	if policy != nil {
		report.Policy = policy.Name
	}
	for _, res := range results {
		report.AddSignature(signatureReport(res))
	}
	if len(results) == 0 {
		report.ComputeOverallConclusion()
	}
	return report
}

func signatureReport(res *SignatureResult) *ades.SignatureReport {
	sr := &ades.SignatureReport{
		ID:                res.ID,
		BestSignatureTime: res.BestSignatureTime,
		Conclusion:        res.Conclusion,
	}
	if !res.SigningTime.IsZero() {
		t := res.SigningTime
		sr.SigningTime = &t
	}
	snap := res.Snapshot
	if snap == nil {
		return sr
	}
	for _, err := range snap.SoftFailures() {
		sr.SoftFailures = append(sr.SoftFailures, err.Error())
	}
	if res.SigningCertificate == nil {
		return sr
	}
	for _, tok := range snap.ChainOf(res.SigningCertificate) {
		info := ades.NewCertificateInfo(tok.Certificate(), tok.Identity().String())
		info.Trusted = tok.IsTrusted()
		sr.Chain = append(sr.Chain, info)
		if snap.IsIncomplete(tok) {
			sr.IncompleteChain = true
		}
		if rt := snap.RevocationFor(tok); rt != nil {
			sr.Revocations = append(sr.Revocations, revocationInfo(tok, rt))
		}
	}
	return sr
}

func revocationInfo(tok *certvalidator.CertificateToken, rt *certvalidator.RevocationToken) *ades.RevocationInfo {
	info := &ades.RevocationInfo{
		Subject:    tok.Subject().String(),
		Type:       rt.Kind().String(),
		Status:     rt.Status().String(),
		Origin:     rt.Origin().String(),
		ThisUpdate: rt.ThisUpdate(),
		SourceURL:  rt.SourceURL(),
	}
	if next := rt.NextUpdate(); !next.IsZero() {
		info.NextUpdate = &next
	}
	if rt.Status() == certvalidator.StatusRevoked {
		date := rt.RevocationDate()
		info.RevocationDate = &date
		info.Reason = rt.Reason().String()
	}
	return info
}
