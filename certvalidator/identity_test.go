package certvalidator

import (
	"crypto/x509/pkix"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/sigvalidate/internal/testpki"
)

func TestCanonicalName(t *testing.T) {
	testCases := map[string]struct {
		a, b  pkix.Name
		equal bool
	}{
		"case folded": {
			a:     pkix.Name{CommonName: "Test CA", Organization: []string{"ACME"}},
			b:     pkix.Name{CommonName: "test ca", Organization: []string{"acme"}},
			equal: true,
		},
		"whitespace collapsed": {
			a:     pkix.Name{CommonName: "  Test   CA "},
			b:     pkix.Name{CommonName: "Test CA"},
			equal: true,
		},
		"compatibility forms": {
			a:     pkix.Name{CommonName: "ＡＢＣ"},
			b:     pkix.Name{CommonName: "abc"},
			equal: true,
		},
		"different value": {
			a: pkix.Name{CommonName: "Test CA 1"},
			b: pkix.Name{CommonName: "Test CA 2"},
		},
		"different attribute": {
			a: pkix.Name{CommonName: "ACME"},
			b: pkix.Name{Organization: []string{"ACME"}},
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.equal, NamesEqual(tc.a, tc.b))
		})
	}
}

func TestIdentityOf(t *testing.T) {
	root := testpki.NewRoot(t, "Root CA")

	id, err := IdentityOf(root.Cert)
	require.NoError(t, err)
	assert.False(t, id.IsZero())
	assert.Equal(t, root.Cert.SerialNumber.String(), id.Serial)

	again, err := IdentityOf(root.Cert)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = IdentityOf(nil)
	assert.ErrorIs(t, err, ErrNilCertificate)

	clone := *root.Cert
	clone.SerialNumber = nil
	_, err = IdentityOf(&clone)
	assert.ErrorIs(t, err, ErrMalformedIdentity)

	clone.SerialNumber = big.NewInt(42)
	other, err := IdentityOf(&clone)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	assert.Equal(t, id.IssuerHash, other.IssuerHash)
}
