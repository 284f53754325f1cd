package certvalidator

import "time"

// Snapshot is a read-only view of the evidence one ValidationContext run
// discovered. Links recorded here belong to the run and take precedence
// over the links stored on shared tokens.
type Snapshot struct {
	runID          string
	validationTime time.Time
	certificates   []*CertificateToken
	processed      map[Identity]*CertificateToken
	issuers        map[Identity]*CertificateToken
	sigValid       map[Identity]bool
	revocations    map[Identity][]*RevocationToken
	winners        map[Identity]*RevocationToken
	revOrder       []*RevocationToken
	timestamps     []TimestampStatus
	incomplete     map[Identity]struct{}
	softFailures   []error
}

func (s *Snapshot) RunID() string { return s.runID }
func (s *Snapshot) ValidationTime() time.Time { return s.validationTime }

// ProcessedCertificates returns the processed certificates in processing
// order.
func (s *Snapshot) ProcessedCertificates() []*CertificateToken {
	return append([]*CertificateToken(nil), s.certificates...)
}

// ProcessedRevocations returns every revocation token seen, deduplicated.
func (s *Snapshot) ProcessedRevocations() []*RevocationToken {
	return append([]*RevocationToken(nil), s.revOrder...)
}

// ProcessedTimestamps returns the timestamp outcomes in seeding order.
func (s *Snapshot) ProcessedTimestamps() []TimestampStatus {
	return append([]TimestampStatus(nil), s.timestamps...)
}

// IncompleteChains returns the processed certificates whose issuer could
// not be found.
func (s *Snapshot) IncompleteChains() []*CertificateToken {
	var out []*CertificateToken
	for _, tok := range s.certificates {
		if _, ok := s.incomplete[tok.Identity()]; ok {
			out = append(out, tok)
		}
	}
	return out
}

// SoftFailures returns the fetch errors that were tolerated.
func (s *Snapshot) SoftFailures() []error {
	return append([]error(nil), s.softFailures...)
}

// Certificate returns the processed token with the given identity.
func (s *Snapshot) Certificate(id Identity) *CertificateToken {
	return s.processed[id]
}

func (s *Snapshot) IsProcessed(tok *CertificateToken) bool {
	if tok == nil {
		return false
	}
	_, ok := s.processed[tok.Identity()]
	return ok
}

func (s *Snapshot) IsIncomplete(tok *CertificateToken) bool {
	if tok == nil {
		return false
	}
	_, ok := s.incomplete[tok.Identity()]
	return ok
}

// IssuerOf returns the issuer resolved for tok in this run.
func (s *Snapshot) IssuerOf(tok *CertificateToken) *CertificateToken {
	if tok == nil {
		return nil
	}
	return s.issuers[tok.Identity()]
}

// IsSignatureValid reports whether the signature of tok verified against
// the issuer resolved in this run.
func (s *Snapshot) IsSignatureValid(tok *CertificateToken) bool {
	if tok == nil {
		return false
	}
	return s.sigValid[tok.Identity()]
}

// RevocationFor returns the revocation token that won for tok, or nil.
func (s *Snapshot) RevocationFor(tok *CertificateToken) *RevocationToken {
	if tok == nil {
		return nil
	}
	return s.winners[tok.Identity()]
}

// RevocationsFor returns every revocation token collected for tok.
func (s *Snapshot) RevocationsFor(tok *CertificateToken) []*RevocationToken {
	if tok == nil {
		return nil
	}
	return append([]*RevocationToken(nil), s.revocations[tok.Identity()]...)
}

// ChainOf follows resolved issuers from tok upwards. The chain ends at a
// self-signed certificate, at a trust anchor or where resolution failed.
func (s *Snapshot) ChainOf(tok *CertificateToken) []*CertificateToken {
	var chain []*CertificateToken
	seen := make(map[Identity]struct{})
	for cur := tok; cur != nil; {
		if _, loop := seen[cur.Identity()]; loop {
			break
		}
		seen[cur.Identity()] = struct{}{}
		chain = append(chain, cur)
		if cur.IsTrusted() {
			break
		}
		next := s.issuers[cur.Identity()]
		if next == cur {
			break
		}
		cur = next
	}
	return chain
}

// ReachesTrustAnchor reports whether the chain of tok ends at a trusted
// certificate without gaps.
func (s *Snapshot) ReachesTrustAnchor(tok *CertificateToken) bool {
	chain := s.ChainOf(tok)
	if len(chain) == 0 {
		return false
	}
	for _, c := range chain {
		if s.IsIncomplete(c) {
			return false
		}
	}
	return chain[len(chain)-1].IsTrusted()
}

// ValidChainToAnchor is ReachesTrustAnchor with the additional demand that
// every certificate below the anchor verified against its issuer.
func (s *Snapshot) ValidChainToAnchor(tok *CertificateToken) bool {
	if !s.ReachesTrustAnchor(tok) {
		return false
	}
	for _, c := range s.ChainOf(tok) {
		if !c.IsTrusted() && !s.IsSignatureValid(c) {
			return false
		}
	}
	return true
}
