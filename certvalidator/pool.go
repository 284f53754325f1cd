package certvalidator

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"sync"
)

// CertificateSource looks certificates up by subject name.
type CertificateSource interface {
	LookupBySubject(name pkix.Name) []*CertificateToken
}

// CertificatePool is the identity-deduplicating registry of certificate
// tokens. Tokens live in an arena; the identity, subject and key identifier
// indexes point into it. A pool may be shared by concurrent validation runs.
type CertificatePool struct {
	mu sync.RWMutex

	tokens []*CertificateToken

	// identity -> arena index
	index map[Identity]int

	// canonical subject hash -> arena indexes, insertion ordered
	subjects map[string][]int

	// subject key identifier -> arena indexes
	keyIDs map[string][]int
}

// NewCertificatePool creates an empty pool.
func NewCertificatePool() *CertificatePool {
	return &CertificatePool{
		index:    make(map[Identity]int),
		subjects: make(map[string][]int),
		keyIDs:   make(map[string][]int),
	}
}

// NewTrustedPool builds a pool of trust anchors tagged with the trusted
// store source.
func NewTrustedPool(certs []*x509.Certificate, services ...ServiceInfo) (*CertificatePool, error) {
	return newPoolWithSource(certs, SourceTrustedStore, services)
}

// NewAdjunctPool builds a pool of untrusted intermediates.
func NewAdjunctPool(certs []*x509.Certificate) (*CertificatePool, error) {
	return newPoolWithSource(certs, SourceOther, nil)
}

func newPoolWithSource(certs []*x509.Certificate, source SourceType, services []ServiceInfo) (*CertificatePool, error) {
	pool := NewCertificatePool()
	for _, cert := range certs {
		if _, err := pool.GetOrCreate(cert, []SourceType{source}, services); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

// GetOrCreate returns the token registered for the identity of cert,
// creating and indexing it when the identity is unseen. The given sources
// and services are merged into the token either way.
func (p *CertificatePool) GetOrCreate(cert *x509.Certificate, sources []SourceType, services []ServiceInfo) (*CertificateToken, error) {
	id, err := IdentityOf(cert)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	token := p.getLocked(id)
	if token == nil {
		token = newCertificateToken(id, cert)
		p.insertLocked(token)
	}
	p.mu.Unlock()

	token.addSources(sources)
	token.addServices(services)
	return token, nil
}

// Import registers the certificate of token in p, carrying its sources and
// services over, and returns p's token for that identity.
func (p *CertificatePool) Import(token *CertificateToken) (*CertificateToken, error) {
	if token == nil {
		return nil, ErrNilCertificate
	}
	return p.GetOrCreate(token.cert, token.Sources(), token.Services())
}

// Merge imports every token of other. Merging is idempotent and the result
// does not depend on the merge order.
func (p *CertificatePool) Merge(other *CertificatePool) {
	if other == nil || other == p {
		return
	}
	for _, token := range other.Tokens() {
		// tokens of a pool always carry a valid identity
		_, _ = p.Import(token)
	}
}

func (p *CertificatePool) getLocked(id Identity) *CertificateToken {
	if i, ok := p.index[id]; ok {
		return p.tokens[i]
	}
	return nil
}

func (p *CertificatePool) insertLocked(token *CertificateToken) {
	i := len(p.tokens)
	p.tokens = append(p.tokens, token)
	p.index[token.id] = i
	p.subjects[token.subject] = append(p.subjects[token.subject], i)
	if ski := token.cert.SubjectKeyId; len(ski) > 0 {
		p.keyIDs[string(ski)] = append(p.keyIDs[string(ski)], i)
	}
}

// Get returns the token for id, or nil.
func (p *CertificatePool) Get(id Identity) *CertificateToken {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.getLocked(id)
}

// LookupBySubject returns the tokens whose canonical subject equals name,
// in registration order.
func (p *CertificatePool) LookupBySubject(name pkix.Name) []*CertificateToken {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.collectLocked(p.subjects[subjectKey(name)])
}

// LookupByKeyID returns the tokens whose subject key identifier equals keyID.
func (p *CertificatePool) LookupByKeyID(keyID []byte) []*CertificateToken {
	if len(keyID) == 0 {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.collectLocked(p.keyIDs[string(keyID)])
}

func (p *CertificatePool) collectLocked(idx []int) []*CertificateToken {
	if len(idx) == 0 {
		return nil
	}
	out := make([]*CertificateToken, 0, len(idx))
	for _, i := range idx {
		out = append(out, p.tokens[i])
	}
	return out
}

// Tokens returns a snapshot of all tokens in registration order.
func (p *CertificatePool) Tokens() []*CertificateToken {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*CertificateToken(nil), p.tokens...)
}

// Len returns the number of distinct identities in the pool.
func (p *CertificatePool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tokens)
}
