package certvalidator

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestSignatureSchemeString(t *testing.T) {
	tests := []struct {
		scheme   SignatureScheme
		expected string
	}{
		{SchemeRSAPKCS1v15, "rsassa_pkcs1v15"},
		{SchemeRSAPSS, "rsassa_pss"},
		{SchemeDSA, "dsa"},
		{SchemeECDSA, "ecdsa"},
		{SchemeEd25519, "ed25519"},
		{SchemeUnknown, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if tt.scheme.String() != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, tt.scheme.String())
			}
		})
	}
}

func TestSignatureAlgorithmOf(t *testing.T) {
	tests := []struct {
		alg    x509.SignatureAlgorithm
		scheme SignatureScheme
		hash   crypto.Hash
	}{
		{x509.SHA1WithRSA, SchemeRSAPKCS1v15, crypto.SHA1},
		{x509.SHA256WithRSA, SchemeRSAPKCS1v15, crypto.SHA256},
		{x509.SHA384WithRSAPSS, SchemeRSAPSS, crypto.SHA384},
		{x509.DSAWithSHA256, SchemeDSA, crypto.SHA256},
		{x509.ECDSAWithSHA1, SchemeECDSA, crypto.SHA1},
		{x509.ECDSAWithSHA512, SchemeECDSA, crypto.SHA512},
		{x509.PureEd25519, SchemeEd25519, 0},
		{x509.UnknownSignatureAlgorithm, SchemeUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.alg.String(), func(t *testing.T) {
			scheme, hash := SignatureAlgorithmOf(tt.alg)
			if scheme != tt.scheme || hash != tt.hash {
				t.Errorf("expected %s/%v, got %s/%v", tt.scheme, tt.hash, scheme, hash)
			}
		})
	}
}

func selfSigned(t *testing.T, alg x509.SignatureAlgorithm, pub crypto.PublicKey, priv crypto.Signer) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(1),
		Subject:            pkix.Name{CommonName: alg.String()},
		NotBefore:          time.Now().Add(-time.Hour),
		NotAfter:           time.Now().Add(time.Hour),
		SignatureAlgorithm: alg,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return cert
}

func TestVerifyCertificateSignature(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	edPub, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	certs := map[string]*x509.Certificate{
		"rsa pkcs1": selfSigned(t, x509.SHA256WithRSA, &rsaKey.PublicKey, rsaKey),
		"rsa pss":   selfSigned(t, x509.SHA256WithRSAPSS, &rsaKey.PublicKey, rsaKey),
		"ecdsa":     selfSigned(t, x509.ECDSAWithSHA384, &ecKey.PublicKey, ecKey),
		"ed25519":   selfSigned(t, x509.PureEd25519, edPub, edKey),
	}
	for name, cert := range certs {
		t.Run(name, func(t *testing.T) {
			if err := VerifyCertificateSignature(cert, cert); err != nil {
				t.Errorf("expected valid signature, got %v", err)
			}

			tampered := *cert
			tampered.RawTBSCertificate = append([]byte(nil), cert.RawTBSCertificate...)
			tampered.RawTBSCertificate[len(tampered.RawTBSCertificate)-1] ^= 0xff
			if err := VerifyCertificateSignature(&tampered, cert); err == nil {
				t.Error("expected tampered certificate to fail")
			}
		})
	}

	if err := VerifyCertificateSignature(certs["ecdsa"], certs["rsa pkcs1"]); err == nil {
		t.Error("expected key type mismatch to fail")
	}
	if err := VerifyCertificateSignature(nil, certs["ecdsa"]); !errors.Is(err, ErrNilCertificate) {
		t.Errorf("expected ErrNilCertificate, got %v", err)
	}
}

func TestVerifySignatureAcceptsSHA1(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("tbs certificate")
	digest := sha1.Sum(msg)

	rsaSig, err := rsa.SignPKCS1v15(rand.Reader, rsaKey, crypto.SHA1, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifySignature(SchemeRSAPKCS1v15, crypto.SHA1, &rsaKey.PublicKey, msg, rsaSig); err != nil {
		t.Errorf("expected SHA-1 RSA signature to verify, got %v", err)
	}

	ecSig, err := ecdsa.SignASN1(rand.Reader, ecKey, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifySignature(SchemeECDSA, crypto.SHA1, &ecKey.PublicKey, msg, ecSig); err != nil {
		t.Errorf("expected SHA-1 ECDSA signature to verify, got %v", err)
	}
}

func TestVerifySignatureErrors(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	digest := sha256.Sum256([]byte("data"))
	sig, err := ecdsa.SignASN1(rand.Reader, ecKey, digest[:])
	if err != nil {
		t.Fatal(err)
	}

	if err := VerifySignature(SchemeUnknown, crypto.SHA256, &ecKey.PublicKey, []byte("data"), sig); !errors.Is(err, ErrAlgorithmNotSupported) {
		t.Errorf("expected ErrAlgorithmNotSupported, got %v", err)
	}
	if err := VerifySignature(SchemeECDSA, crypto.SHA256, &ecKey.PublicKey, []byte("other"), sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	if _, _, err := unmarshalRS([]byte{0x30, 0x00}); err == nil {
		t.Error("expected empty DSA signature to be rejected")
	}
}
