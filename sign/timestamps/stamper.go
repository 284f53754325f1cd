package timestamps

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// DefaultPolicyOID is the TSA policy written when none is configured.
var DefaultPolicyOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 1}

// Stamper issues timestamp tokens with a local key. It produces the
// evidence a TSA would embed and is meant for tooling and tests.
type Stamper struct {
	cert   *x509.Certificate
	key    crypto.Signer
	hash   crypto.Hash
	policy asn1.ObjectIdentifier
	clock  clockwork.Clock
	chain  []*x509.Certificate
}

// StamperOption configures a Stamper.
type StamperOption func(*Stamper)

// WithHash sets the digest algorithm of the imprint and the signer info.
func WithHash(h crypto.Hash) StamperOption {
	return func(s *Stamper) { s.hash = h }
}

// WithPolicyOID sets the TSA policy.
func WithPolicyOID(oid asn1.ObjectIdentifier) StamperOption {
	return func(s *Stamper) { s.policy = oid }
}

// WithClock sets the clock the generation time is read from.
func WithClock(clock clockwork.Clock) StamperOption {
	return func(s *Stamper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithChain adds certificates to the token next to the signer.
func WithChain(certs ...*x509.Certificate) StamperOption {
	return func(s *Stamper) { s.chain = append(s.chain, certs...) }
}

// NewStamper creates a Stamper signing with key on behalf of cert.
func NewStamper(cert *x509.Certificate, key crypto.Signer, opts ...StamperOption) (*Stamper, error) {
	if cert == nil || key == nil {
		return nil, fmt.Errorf("%w: stamper needs a certificate and a key", ErrInvalidTimestamp)
	}
	s := &Stamper{
		cert:   cert,
		key:    key,
		hash:   crypto.SHA256,
		policy: DefaultPolicyOID,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := hashOID(s.hash); err != nil {
		return nil, err
	}
	if _, err := s.signatureAlgorithm(); err != nil {
		return nil, err
	}
	return s, nil
}

// Stamp returns a DER timestamp token over data.
func (s *Stamper) Stamp(data []byte) ([]byte, error) {
	h := s.hash.New()
	h.Write(data)
	return s.StampDigest(h.Sum(nil))
}

// StampDigest returns a DER timestamp token over a precomputed digest.
func (s *Stamper) StampDigest(digest []byte) ([]byte, error) {
	if len(digest) != s.hash.Size() {
		return nil, fmt.Errorf("%w: digest length %d does not match %s", ErrInvalidTimestamp, len(digest), s.hash)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}
	tstInfo, err := s.tstInfo(digest, serial, s.clock.Now().UTC().Truncate(time.Second))
	if err != nil {
		return nil, err
	}

	eh := s.hash.New()
	eh.Write(tstInfo)
	attrs, err := signedAttrs(eh.Sum(nil))
	if err != nil {
		return nil, err
	}
	sig, err := s.sign(attrs)
	if err != nil {
		return nil, err
	}
	return s.signedData(tstInfo, attrs, sig)
}

func (s *Stamper) algorithm(b *cryptobyte.Builder, oid asn1.ObjectIdentifier, null bool) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		if null {
			b.AddASN1NULL()
		}
	})
}

func (s *Stamper) tstInfo(digest []byte, serial *big.Int, genTime time.Time) ([]byte, error) {
	oid, _ := hashOID(s.hash)
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(1)
		b.AddASN1ObjectIdentifier(s.policy)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			s.algorithm(b, oid, true)
			b.AddASN1OctetString(digest)
		})
		b.AddASN1BigInt(serial)
		b.AddASN1GeneralizedTime(genTime)
	})
	return b.Bytes()
}

// signedAttrs returns the content octets of the signed attributes set.
func signedAttrs(digest []byte) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(OIDContentType)
		b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(OIDTSTInfo)
		})
	})
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(OIDMessageDigest)
		b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
			b.AddASN1OctetString(digest)
		})
	})
	return b.Bytes()
}

func (s *Stamper) signatureAlgorithm() (asn1.ObjectIdentifier, error) {
	switch s.key.Public().(type) {
	case *rsa.PublicKey:
		return OIDRSAEncryption, nil
	case ed25519.PublicKey:
		return OIDEd25519, nil
	case *ecdsa.PublicKey:
		switch s.hash {
		case crypto.SHA256:
			return OIDECDSAWithSHA256, nil
		case crypto.SHA384:
			return OIDECDSAWithSHA384, nil
		case crypto.SHA512:
			return OIDECDSAWithSHA512, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported key %T with %s", ErrInvalidTimestamp, s.key.Public(), s.hash)
}

func (s *Stamper) sign(attrs []byte) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) { b.AddBytes(attrs) })
	signed, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	if _, ok := s.key.Public().(ed25519.PublicKey); ok {
		return s.key.Sign(rand.Reader, signed, crypto.Hash(0))
	}
	h := s.hash.New()
	h.Write(signed)
	return s.key.Sign(rand.Reader, h.Sum(nil), s.hash)
}

func (s *Stamper) signedData(tstInfo, attrs, sig []byte) ([]byte, error) {
	digestOID, _ := hashOID(s.hash)
	sigOID, _ := s.signatureAlgorithm()
	_, isRSA := s.key.Public().(*rsa.PublicKey)
	explicit0 := cbasn1.Tag(0).Constructed().ContextSpecific()

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(OIDSignedData)
		b.AddASN1(explicit0, func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(3)
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
					s.algorithm(b, digestOID, true)
				})
				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(OIDTSTInfo)
					b.AddASN1(explicit0, func(b *cryptobyte.Builder) {
						b.AddASN1OctetString(tstInfo)
					})
				})
				b.AddASN1(explicit0, func(b *cryptobyte.Builder) {
					b.AddBytes(s.cert.Raw)
					for _, c := range s.chain {
						b.AddBytes(c.Raw)
					}
				})
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
					b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1Int64(1)
						b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
							b.AddBytes(s.cert.RawIssuer)
							b.AddASN1BigInt(s.cert.SerialNumber)
						})
						s.algorithm(b, digestOID, true)
						b.AddASN1(explicit0, func(b *cryptobyte.Builder) { b.AddBytes(attrs) })
						s.algorithm(b, sigOID, isRSA)
						b.AddASN1OctetString(sig)
					})
				})
			})
		})
	})
	return b.Bytes()
}
