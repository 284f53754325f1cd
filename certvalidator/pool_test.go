package certvalidator

import (
	"crypto/x509"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/sigvalidate/internal/testpki"
)

func TestGetOrCreateAccumulatesSources(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	pool := NewCertificatePool()

	first, err := pool.GetOrCreate(root.Cert, []SourceType{SourceSignature}, nil)
	require.NoError(t, err)
	second, err := pool.GetOrCreate(root.Cert, []SourceType{SourceAIA}, nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, []SourceType{SourceSignature, SourceAIA}, second.Sources())
	assert.Equal(t, 1, pool.Len())
}

func TestGetOrCreateNilCertificate(t *testing.T) {
	pool := NewCertificatePool()
	_, err := pool.GetOrCreate(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilCertificate)
}

func TestGetOrCreateServicesDeduplicated(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	svc := ServiceInfo{TSPName: "TSP", ServiceName: "QC", ServiceType: "CA/QC", Status: "granted"}
	pool := NewCertificatePool()

	_, err := pool.GetOrCreate(root.Cert, []SourceType{SourceTrustedList}, []ServiceInfo{svc})
	require.NoError(t, err)
	tok, err := pool.GetOrCreate(root.Cert, nil, []ServiceInfo{svc})
	require.NoError(t, err)

	assert.Equal(t, []ServiceInfo{svc}, tok.Services())
	assert.True(t, tok.IsTrusted())
}

func TestGetOrCreateConcurrent(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	pool := NewCertificatePool()

	sources := []SourceType{SourceSignature, SourceAIA, SourceOCSPResponse, SourceTimestamp}
	tokens := make([]*CertificateToken, 32)
	var wg sync.WaitGroup
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := pool.GetOrCreate(root.Cert, []SourceType{sources[i%len(sources)]}, nil)
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Same(t, tokens[0], tok)
	}
	assert.Equal(t, 1, pool.Len())
	assert.Len(t, tokens[0].Sources(), len(sources))
}

func TestMergeUnionsSources(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.NewLeaf(t, "Signer")

	pool1 := NewCertificatePool()
	_, err := pool1.GetOrCreate(leaf.Cert, []SourceType{SourceSignature}, nil)
	require.NoError(t, err)
	pool2 := NewCertificatePool()
	_, err = pool2.GetOrCreate(leaf.Cert, []SourceType{SourceAIA}, nil)
	require.NoError(t, err)

	pool1.Merge(pool2)

	found := pool1.LookupBySubject(leaf.Cert.Subject)
	require.Len(t, found, 1)
	assert.Equal(t, []SourceType{SourceSignature, SourceAIA}, found[0].Sources())
}

func TestMergeIdempotent(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	inter := root.NewIntermediate(t, "Intermediate CA")
	leaf := inter.NewLeaf(t, "Signer")

	build := func() (*CertificatePool, *CertificatePool) {
		a := NewCertificatePool()
		_, err := a.GetOrCreate(leaf.Cert, []SourceType{SourceSignature}, nil)
		require.NoError(t, err)
		b := NewCertificatePool()
		for _, c := range []*x509.Certificate{inter.Cert, root.Cert, leaf.Cert} {
			_, err := b.GetOrCreate(c, []SourceType{SourceOther}, nil)
			require.NoError(t, err)
		}
		return a, b
	}

	once, b1 := build()
	once.Merge(b1)
	twice, b2 := build()
	twice.Merge(b2)
	twice.Merge(b2)

	require.Equal(t, once.Len(), twice.Len())
	for _, tok := range once.Tokens() {
		other := twice.Get(tok.Identity())
		require.NotNil(t, other)
		assert.Equal(t, tok.Sources(), other.Sources())
	}
}

func TestMergeCommutative(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.NewLeaf(t, "Signer")

	fill := func(p *CertificatePool, c *x509.Certificate, s SourceType) {
		_, err := p.GetOrCreate(c, []SourceType{s}, nil)
		require.NoError(t, err)
	}
	a1, b1 := NewCertificatePool(), NewCertificatePool()
	fill(a1, leaf.Cert, SourceSignature)
	fill(b1, leaf.Cert, SourceAIA)
	fill(b1, root.Cert, SourceTrustedStore)
	a1.Merge(b1)

	a2, b2 := NewCertificatePool(), NewCertificatePool()
	fill(a2, leaf.Cert, SourceSignature)
	fill(b2, leaf.Cert, SourceAIA)
	fill(b2, root.Cert, SourceTrustedStore)
	b2.Merge(a2)

	require.Equal(t, a1.Len(), b2.Len())
	for _, tok := range a1.Tokens() {
		assert.Equal(t, tok.Sources(), b2.Get(tok.Identity()).Sources())
	}
}

func TestMergeSelfAndNil(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	pool := NewCertificatePool()
	_, err := pool.GetOrCreate(root.Cert, []SourceType{SourceOther}, nil)
	require.NoError(t, err)

	pool.Merge(pool)
	pool.Merge(nil)
	assert.Equal(t, 1, pool.Len())
}

func TestLookupByKeyID(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	leaf := root.NewLeaf(t, "Signer")
	pool, err := NewAdjunctPool([]*x509.Certificate{root.Cert, leaf.Cert})
	require.NoError(t, err)

	found := pool.LookupByKeyID(leaf.Cert.AuthorityKeyId)
	require.Len(t, found, 1)
	assert.Equal(t, root.Cert.Raw, found[0].Raw())
	assert.Empty(t, pool.LookupByKeyID(nil))
}

func TestSetIssuerOnce(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")
	other := testpki.NewRoot(t, "Other CA")
	leaf := root.NewLeaf(t, "Signer")
	pool := NewCertificatePool()

	leafTok, err := pool.GetOrCreate(leaf.Cert, nil, nil)
	require.NoError(t, err)
	rootTok, err := pool.GetOrCreate(root.Cert, nil, nil)
	require.NoError(t, err)
	otherTok, err := pool.GetOrCreate(other.Cert, nil, nil)
	require.NoError(t, err)

	assert.True(t, leafTok.SetIssuer(rootTok))
	assert.True(t, leafTok.IsSignatureValid())
	assert.False(t, leafTok.SetIssuer(otherTok))
	assert.Same(t, rootTok, leafTok.Issuer())
	assert.True(t, rootTok.IsSelfSigned())
	assert.False(t, leafTok.IsSelfSigned())
}
