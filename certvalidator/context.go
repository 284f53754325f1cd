package certvalidator

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/georgepadayatti/sigvalidate/log"
)

// ValidationContext discovers the evidence needed to validate a set of
// signatures. Starting from the seeded certificates it resolves issuers,
// revocation data and timestamps until no new certificate shows up.
//
// A ValidationContext is single use and not safe for concurrent use. The
// pool it works on may be shared between contexts.
type ValidationContext struct {
	pool     *CertificatePool
	verifier CertificateVerifier

	clock          clockwork.Clock
	validationTime time.Time
	logger         *zap.Logger
	runID          string
	seq            uint64

	seeds      []*CertificateToken
	timestamps []*TimestampToken
	revSources []RevocationSource

	ran       bool
	processed map[Identity]*CertificateToken
	order     []*CertificateToken
	issuers   map[Identity]*CertificateToken
	sigValid  map[Identity]bool
	revs      map[Identity][]*RevocationToken
	winners   map[Identity]*RevocationToken
	revOrder  []*RevocationToken
	revSeen   map[string]struct{}
	tsStatus  []TimestampStatus
	broken    map[Identity]struct{}
	softFails []error
}

// ValidationContextOption configures a ValidationContext.
type ValidationContextOption func(*ValidationContext) error

// WithValidationTime fixes the time at which evidence is evaluated.
func WithValidationTime(t time.Time) ValidationContextOption {
	return func(vc *ValidationContext) error {
		if t.IsZero() {
			return fmt.Errorf("%w: zero validation time", ErrNilArgument)
		}
		vc.validationTime = t
		return nil
	}
}

// WithClock sets the clock used when no validation time is given.
func WithClock(clock clockwork.Clock) ValidationContextOption {
	return func(vc *ValidationContext) error {
		if clock == nil {
			return fmt.Errorf("%w: clock", ErrNilArgument)
		}
		vc.clock = clock
		return nil
	}
}

// WithLogger sets the logger. Without it the logger carried by the context
// passed to Validate is used.
func WithLogger(logger *zap.Logger) ValidationContextOption {
	return func(vc *ValidationContext) error {
		vc.logger = logger
		return nil
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) ValidationContextOption {
	return func(vc *ValidationContext) error {
		if id == "" {
			return fmt.Errorf("%w: empty run id", ErrNilArgument)
		}
		vc.runID = id
		return nil
	}
}

// NewValidationContext creates a context working on pool. A nil verifier
// behaves like an OfflineVerifier without sources.
func NewValidationContext(pool *CertificatePool, verifier CertificateVerifier, opts ...ValidationContextOption) (*ValidationContext, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: certificate pool", ErrNilArgument)
	}
	if verifier == nil {
		verifier = NewOfflineVerifier(nil, nil)
	}
	vc := &ValidationContext{
		pool:      pool,
		verifier:  verifier,
		clock:     clockwork.NewRealClock(),
		runID:     uuid.NewString(),
		processed: make(map[Identity]*CertificateToken),
		issuers:   make(map[Identity]*CertificateToken),
		sigValid:  make(map[Identity]bool),
		revs:      make(map[Identity][]*RevocationToken),
		winners:   make(map[Identity]*RevocationToken),
		revSeen:   make(map[string]struct{}),
		broken:    make(map[Identity]struct{}),
	}
	for _, opt := range opts {
		if err := opt(vc); err != nil {
			return nil, err
		}
	}
	if vc.validationTime.IsZero() {
		vc.validationTime = vc.clock.Now()
	}
	return vc, nil
}

// RunID returns the identifier of this run.
func (vc *ValidationContext) RunID() string { return vc.runID }

// ValidationTime returns the time evidence is evaluated at.
func (vc *ValidationContext) ValidationTime() time.Time { return vc.validationTime }

// Pool returns the pool the context works on.
func (vc *ValidationContext) Pool() *CertificatePool { return vc.pool }

// AddSignature seeds the certificates, timestamps and revocation data
// embedded in sig.
func (vc *ValidationContext) AddSignature(sig AdvancedSignature) error {
	if sig == nil {
		return ErrNilSignature
	}
	for _, cert := range sig.SigningCertificateCandidates() {
		if err := vc.seed(cert, SourceSignature); err != nil {
			return fmt.Errorf("signature %s: signing certificate: %w", sig.ID(), err)
		}
	}
	for _, cert := range sig.Certificates() {
		if err := vc.seed(cert, SourceSignature); err != nil {
			return fmt.Errorf("signature %s: embedded certificate: %w", sig.ID(), err)
		}
	}
	for _, ts := range sig.EmbeddedTimestamps() {
		if err := vc.AddTimestamp(ts); err != nil {
			return fmt.Errorf("signature %s: %w", sig.ID(), err)
		}
	}
	if src := sig.EmbeddedRevocationSource(); src != nil {
		vc.AddRevocationSource(src)
	}
	return nil
}

// AddCertificate seeds a single certificate.
func (vc *ValidationContext) AddCertificate(cert *x509.Certificate, source SourceType) (*CertificateToken, error) {
	tok, err := vc.pool.GetOrCreate(cert, []SourceType{source}, nil)
	if err != nil {
		return nil, err
	}
	vc.seeds = append(vc.seeds, tok)
	return tok, nil
}

// AddTimestamp seeds a timestamp and its embedded certificates.
func (vc *ValidationContext) AddTimestamp(ts *TimestampToken) error {
	if ts == nil {
		return fmt.Errorf("%w: timestamp", ErrNilArgument)
	}
	vc.timestamps = append(vc.timestamps, ts)
	if signer := ts.SignerCertificate(); signer != nil {
		if err := vc.seed(signer, SourceTimestamp); err != nil {
			return fmt.Errorf("timestamp %s: %w", ts.ID(), err)
		}
	}
	for _, cert := range ts.Certificates() {
		if err := vc.seed(cert, SourceTimestamp); err != nil {
			return fmt.Errorf("timestamp %s: %w", ts.ID(), err)
		}
	}
	return nil
}

// AddRevocationSource registers embedded revocation data.
func (vc *ValidationContext) AddRevocationSource(src RevocationSource) {
	if src != nil {
		vc.revSources = append(vc.revSources, src)
	}
}

func (vc *ValidationContext) seed(cert *x509.Certificate, source SourceType) error {
	_, err := vc.AddCertificate(cert, source)
	return err
}

// Validate runs evidence discovery to its fixpoint. Missing evidence is
// recorded in the snapshot; only structural problems and cancellation are
// returned as errors.
func (vc *ValidationContext) Validate(ctx context.Context) error {
	if vc.ran {
		return ErrAlreadyValidated
	}
	vc.ran = true
	if vc.logger == nil {
		vc.logger = log.FromCtx(ctx)
	}
	vc.logger = vc.logger.With(zap.String("run", vc.runID))

	queue := append([]*CertificateToken(nil), vc.seeds...)
	for _, ts := range vc.timestamps {
		queue = append(queue, vc.processTimestamp(ts)...)
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("validation run %s: %w", vc.runID, err)
		}
		tok := queue[0]
		queue = queue[1:]
		if _, done := vc.processed[tok.Identity()]; done {
			continue
		}
		queue = append(queue, vc.process(ctx, tok)...)
	}
	vc.logger.Debug("Evidence discovery finished",
		zap.Int("certificates", len(vc.order)),
		zap.Int("revocations", len(vc.revOrder)),
		zap.Int("incomplete", len(vc.broken)),
		zap.Int("soft_failures", len(vc.softFails)))
	return nil
}

func (vc *ValidationContext) nextSeq() uint64 {
	vc.seq++
	return vc.seq
}

// process handles one certificate and returns the certificates it
// discovered.
func (vc *ValidationContext) process(ctx context.Context, tok *CertificateToken) []*CertificateToken {
	var next []*CertificateToken
	vc.mergeTrust(tok)
	id := tok.Identity()

	issuer := vc.resolveIssuer(ctx, tok)
	switch {
	case issuer != nil:
		vc.issuers[id] = issuer
		vc.sigValid[id] = signedBy(tok.Certificate(), issuer.Certificate())
		tok.SetIssuer(issuer)
		if issuer != tok && !tok.IsTrusted() && !tok.IsSelfSigned() {
			next = append(next, issuer)
		}
	case !tok.IsTrusted() && !tok.IsSelfSigned():
		vc.broken[id] = struct{}{}
		vc.logger.Debug("Issuer not found", zap.Stringer("certificate", id),
			zap.String("subject", tok.Subject().String()))
	}

	if !tok.IsTrusted() {
		next = append(next, vc.checkRevocation(ctx, tok, issuer)...)
	}

	vc.processed[id] = tok
	vc.order = append(vc.order, tok)
	msg := "processed"
	if _, ok := vc.broken[id]; ok {
		msg = "processed, chain incomplete"
	}
	tok.AddValidationInfo(vc.runID, vc.nextSeq(), msg)
	return next
}

// mergeTrust adds trust sources and services to tok when the trusted source
// knows the same certificate.
func (vc *ValidationContext) mergeTrust(tok *CertificateToken) {
	trusted := vc.verifier.TrustedSource()
	if trusted == nil {
		return
	}
	for _, cand := range trusted.LookupBySubject(tok.Subject()) {
		if cand.Identity() == tok.Identity() {
			tok.addSources(cand.Sources())
			tok.addServices(cand.Services())
		}
	}
}

func (vc *ValidationContext) resolveIssuer(ctx context.Context, tok *CertificateToken) *CertificateToken {
	if tok.IsSelfSigned() {
		return tok
	}
	cert := tok.Certificate()

	var candidates []*CertificateToken
	if len(cert.AuthorityKeyId) > 0 {
		candidates = append(candidates, vc.pool.LookupByKeyID(cert.AuthorityKeyId)...)
	}
	for _, src := range []CertificateSource{vc.verifier.TrustedSource(), vc.verifier.AdjunctSource(), vc.pool} {
		if src == nil {
			continue
		}
		candidates = append(candidates, src.LookupBySubject(cert.Issuer)...)
	}
	if found := vc.pickIssuer(tok, candidates); found != nil {
		return found
	}

	if tok.IsTrusted() {
		return nil
	}
	fetched, err := vc.verifier.FetchIssuer(ctx, tok)
	if err != nil {
		vc.softFail(err)
		vc.logger.Debug("Issuer fetch failed", zap.Stringer("certificate", tok.Identity()), zap.Error(err))
	}
	candidates = candidates[:0]
	for _, c := range fetched {
		ft, err := vc.pool.GetOrCreate(c, []SourceType{SourceAIA}, nil)
		if err != nil {
			vc.softFail(err)
			continue
		}
		candidates = append(candidates, ft)
	}
	return vc.pickIssuer(tok, candidates)
}

// pickIssuer returns the first candidate whose key verifies the certificate
// signature, falling back to the first name or key id match. Candidates
// from foreign sources are imported into the pool.
func (vc *ValidationContext) pickIssuer(tok *CertificateToken, candidates []*CertificateToken) *CertificateToken {
	cert := tok.Certificate()
	var fallback *CertificateToken
	for _, cand := range candidates {
		if cand.Identity() == tok.Identity() {
			continue
		}
		if !NamesEqual(cand.Subject(), cert.Issuer) && !keyIDMatches(cert, cand.Certificate()) {
			continue
		}
		if signedBy(cert, cand.Certificate()) {
			return vc.importToken(cand)
		}
		if fallback == nil {
			fallback = cand
		}
	}
	if fallback == nil {
		return nil
	}
	return vc.importToken(fallback)
}

func keyIDMatches(cert, issuer *x509.Certificate) bool {
	return len(cert.AuthorityKeyId) > 0 && string(cert.AuthorityKeyId) == string(issuer.SubjectKeyId)
}

func (vc *ValidationContext) importToken(cand *CertificateToken) *CertificateToken {
	tok, err := vc.pool.GetOrCreate(cand.Certificate(), cand.Sources(), cand.Services())
	if err != nil {
		vc.softFail(err)
		return nil
	}
	return tok
}

// checkRevocation collects revocation evidence for tok. Embedded sources are
// consulted first and the first token that verified against its issuer and
// is fresh at validation time wins; the verifier is asked only when no
// embedded token qualifies. Tokens that lose are kept for audit.
func (vc *ValidationContext) checkRevocation(ctx context.Context, tok, issuer *CertificateToken) []*CertificateToken {
	id := tok.Identity()
	var winner *RevocationToken
	var found []*RevocationToken

	for _, src := range vc.revSources {
		for _, rt := range src.Revocations(tok, issuer) {
			found = append(found, rt)
			if winner == nil && vc.canWin(rt) {
				winner = rt
			}
		}
	}
	if winner == nil && issuer != nil && !tok.IsSelfSigned() {
		fetched, err := vc.verifier.FetchRevocation(ctx, tok, issuer)
		if err != nil {
			vc.softFail(err)
			vc.logger.Debug("Revocation fetch failed", zap.Stringer("certificate", id), zap.Error(err))
		}
		for _, rt := range fetched {
			found = append(found, rt)
			if winner == nil && vc.canWin(rt) {
				winner = rt
			}
		}
	}

	var next []*CertificateToken
	for _, rt := range found {
		vc.revs[id] = append(vc.revs[id], rt)
		if _, seen := vc.revSeen[rt.ID()]; !seen {
			vc.revSeen[rt.ID()] = struct{}{}
			vc.revOrder = append(vc.revOrder, rt)
		}
		for _, c := range rt.Certificates() {
			signer, err := vc.pool.GetOrCreate(c, []SourceType{SourceOCSPResponse}, nil)
			if err != nil {
				vc.softFail(err)
				continue
			}
			next = append(next, signer)
		}
		if signer := vc.pool.Get(rt.Issuer()); signer != nil {
			next = append(next, signer)
		}
	}
	if winner != nil {
		vc.winners[id] = winner
		tok.SetRevocation(winner)
		vc.logger.Debug("Revocation evidence selected", zap.Stringer("certificate", id),
			zap.Stringer("kind", winner.Kind()), zap.Stringer("status", winner.Status()),
			zap.Stringer("origin", winner.Origin()))
	} else if len(found) > 0 {
		vc.logger.Debug("No fresh revocation evidence", zap.Stringer("certificate", id),
			zap.Int("candidates", len(found)))
	}
	return next
}

func (vc *ValidationContext) canWin(rt *RevocationToken) bool {
	return rt.IsSignatureValid() && rt.IsFreshAt(vc.validationTime)
}

func (vc *ValidationContext) processTimestamp(ts *TimestampToken) []*CertificateToken {
	status := TimestampStatus{Token: ts, ImprintValid: ts.VerifyImprint()}
	var next []*CertificateToken
	if signer := ts.SignerCertificate(); signer != nil {
		if tok, err := vc.pool.GetOrCreate(signer, []SourceType{SourceTimestamp}, nil); err == nil {
			status.Signer = tok
			next = append(next, tok)
		} else {
			vc.softFail(err)
		}
	}
	for _, cert := range ts.Certificates() {
		if tok, err := vc.pool.GetOrCreate(cert, []SourceType{SourceTimestamp}, nil); err == nil {
			next = append(next, tok)
		}
	}
	if !status.ImprintValid {
		vc.logger.Debug("Timestamp imprint mismatch", zap.String("timestamp", ts.ID()))
	}
	vc.tsStatus = append(vc.tsStatus, status)
	return next
}

func (vc *ValidationContext) softFail(err error) {
	vc.softFails = append(vc.softFails, err)
}

// Snapshot returns the evidence gathered so far.
func (vc *ValidationContext) Snapshot() *Snapshot {
	s := &Snapshot{
		runID:          vc.runID,
		validationTime: vc.validationTime,
		certificates:   append([]*CertificateToken(nil), vc.order...),
		processed:      make(map[Identity]*CertificateToken, len(vc.processed)),
		issuers:        make(map[Identity]*CertificateToken, len(vc.issuers)),
		sigValid:       make(map[Identity]bool, len(vc.sigValid)),
		revocations:    make(map[Identity][]*RevocationToken, len(vc.revs)),
		winners:        make(map[Identity]*RevocationToken, len(vc.winners)),
		revOrder:       append([]*RevocationToken(nil), vc.revOrder...),
		timestamps:     append([]TimestampStatus(nil), vc.tsStatus...),
		incomplete:     make(map[Identity]struct{}, len(vc.broken)),
		softFailures:   append([]error(nil), vc.softFails...),
	}
	for k, v := range vc.processed {
		s.processed[k] = v
	}
	for k, v := range vc.issuers {
		s.issuers[k] = v
	}
	for k, v := range vc.sigValid {
		s.sigValid[k] = v
	}
	for k, v := range vc.revs {
		s.revocations[k] = append([]*RevocationToken(nil), v...)
	}
	for k, v := range vc.winners {
		s.winners[k] = v
	}
	for k := range vc.broken {
		s.incomplete[k] = struct{}{}
	}
	return s
}
