package certvalidator

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // legacy certificates still carry DSA signatures
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

// Signature validation errors
var (
	// ErrAlgorithmNotSupported is returned when a signature algorithm is not supported.
	ErrAlgorithmNotSupported = errors.New("algorithm not supported")

	// ErrDSAParametersUnavailable is returned when DSA public key parameters are missing.
	ErrDSAParametersUnavailable = errors.New("DSA public key parameters unavailable")

	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = errors.New("invalid signature")
)

// SignatureScheme is the public key scheme of a certificate signature.
type SignatureScheme int

const (
	SchemeUnknown SignatureScheme = iota
	SchemeRSAPKCS1v15
	SchemeRSAPSS
	SchemeDSA
	SchemeECDSA
	SchemeEd25519
)

func (s SignatureScheme) String() string {
	switch s {
	case SchemeRSAPKCS1v15:
		return "rsassa_pkcs1v15"
	case SchemeRSAPSS:
		return "rsassa_pss"
	case SchemeDSA:
		return "dsa"
	case SchemeECDSA:
		return "ecdsa"
	case SchemeEd25519:
		return "ed25519"
	default:
		return "unknown"
	}
}

// SignatureAlgorithmOf splits a certificate signature algorithm into its
// scheme and digest. Ed25519 signs the message itself and has no digest.
func SignatureAlgorithmOf(alg x509.SignatureAlgorithm) (SignatureScheme, crypto.Hash) {
	switch alg {
	case x509.MD5WithRSA:
		return SchemeRSAPKCS1v15, crypto.MD5
	case x509.SHA1WithRSA:
		return SchemeRSAPKCS1v15, crypto.SHA1
	case x509.SHA256WithRSA:
		return SchemeRSAPKCS1v15, crypto.SHA256
	case x509.SHA384WithRSA:
		return SchemeRSAPKCS1v15, crypto.SHA384
	case x509.SHA512WithRSA:
		return SchemeRSAPKCS1v15, crypto.SHA512
	case x509.SHA256WithRSAPSS:
		return SchemeRSAPSS, crypto.SHA256
	case x509.SHA384WithRSAPSS:
		return SchemeRSAPSS, crypto.SHA384
	case x509.SHA512WithRSAPSS:
		return SchemeRSAPSS, crypto.SHA512
	case x509.DSAWithSHA1:
		return SchemeDSA, crypto.SHA1
	case x509.DSAWithSHA256:
		return SchemeDSA, crypto.SHA256
	case x509.ECDSAWithSHA1:
		return SchemeECDSA, crypto.SHA1
	case x509.ECDSAWithSHA256:
		return SchemeECDSA, crypto.SHA256
	case x509.ECDSAWithSHA384:
		return SchemeECDSA, crypto.SHA384
	case x509.ECDSAWithSHA512:
		return SchemeECDSA, crypto.SHA512
	case x509.PureEd25519:
		return SchemeEd25519, 0
	default:
		return SchemeUnknown, 0
	}
}

// VerifyCertificateSignature checks the signature of cert with the public
// key of issuer. SHA-1 and MD5 digests are accepted; their strength is
// judged by the validation policy.
func VerifyCertificateSignature(cert, issuer *x509.Certificate) error {
	if cert == nil || issuer == nil {
		return ErrNilCertificate
	}
	scheme, hash := SignatureAlgorithmOf(cert.SignatureAlgorithm)
	return VerifySignature(scheme, hash, issuer.PublicKey, cert.RawTBSCertificate, cert.Signature)
}

// VerifySignature checks sig over signed with pub. signed is hashed with
// hash unless the scheme signs messages directly.
func VerifySignature(scheme SignatureScheme, hash crypto.Hash, pub crypto.PublicKey, signed, sig []byte) error {
	if scheme == SchemeEd25519 {
		key, ok := pub.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("expected Ed25519 public key, got %T", pub)
		}
		if !ed25519.Verify(key, signed, sig) {
			return ErrInvalidSignature
		}
		return nil
	}
	if scheme == SchemeUnknown || hash == 0 || !hash.Available() {
		return fmt.Errorf("%w: %s with %s", ErrAlgorithmNotSupported, scheme, hash)
	}
	h := hash.New()
	h.Write(signed)
	digest := h.Sum(nil)

	switch scheme {
	case SchemeRSAPKCS1v15, SchemeRSAPSS:
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("expected RSA public key, got %T", pub)
		}
		var err error
		if scheme == SchemeRSAPSS {
			err = rsa.VerifyPSS(key, hash, digest, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: hash})
		} else {
			err = rsa.VerifyPKCS1v15(key, hash, digest, sig)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil

	case SchemeDSA:
		key, ok := pub.(*dsa.PublicKey)
		if !ok {
			return fmt.Errorf("expected DSA public key, got %T", pub)
		}
		if key.P == nil || key.Q == nil || key.G == nil {
			return ErrDSAParametersUnavailable
		}
		r, s, err := unmarshalRS(sig)
		if err != nil {
			return err
		}
		if !dsa.Verify(key, digest, r, s) {
			return ErrInvalidSignature
		}
		return nil

	case SchemeECDSA:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("expected ECDSA public key, got %T", pub)
		}
		if !ecdsa.VerifyASN1(key, digest, sig) {
			return ErrInvalidSignature
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAlgorithmNotSupported, scheme)
}

func unmarshalRS(sig []byte) (*big.Int, *big.Int, error) {
	var rs struct {
		R, S *big.Int
	}
	rest, err := asn1.Unmarshal(sig, &rs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(rest) > 0 || rs.R == nil || rs.S == nil || rs.R.Sign() <= 0 || rs.S.Sign() <= 0 {
		return nil, nil, ErrInvalidSignature
	}
	return rs.R, rs.S, nil
}
