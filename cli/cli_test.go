package cli

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/sigvalidate/internal/testpki"
	"github.com/georgepadayatti/sigvalidate/sign/ades"
	"github.com/georgepadayatti/sigvalidate/sign/timestamps"
)

// workspace is a directory holding a trust store, a configuration and the
// material referenced by evidence bundles.
type workspace struct {
	dir    string
	root   *testpki.Authority
	signer *testpki.Authority
	tsa    *testpki.Authority
	now    time.Time
	config string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	w := &workspace{
		dir:  t.TempDir(),
		root: testpki.NewRoot(t, "CLI Root CA"),
		now:  time.Now().UTC().Truncate(time.Second),
	}
	w.signer = w.root.NewLeaf(t, "CLI Signer")
	w.tsa = w.root.NewLeaf(t, "CLI TSA", testpki.WithValidity(w.now.AddDate(0, -1, 0), w.now.AddDate(1, 0, 0)))
	w.root.WritePEM(t, w.dir, "root.pem")
	w.signer.WritePEM(t, w.dir, "signer.pem")
	w.tsa.WritePEM(t, w.dir, "tsa.pem")
	w.config = w.write(t, "sigvalidate.yaml", "trust:\n  roots: [root.pem]\nlog:\n  level: error\n")
	return w
}

func (w *workspace) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (w *workspace) crl(t *testing.T, name string, revoked ...*testpki.Authority) {
	t.Helper()
	var certs []*x509.Certificate
	for _, a := range revoked {
		certs = append(certs, a.Cert)
	}
	thisUpdate := w.now.Add(-time.Minute)
	der := w.root.CRL(t, certs, thisUpdate, thisUpdate.Add(2*time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(w.dir, name), der, 0o600))
}

func (w *workspace) bundle(t *testing.T, body string) string {
	t.Helper()
	return w.write(t, "bundle.yaml", body)
}

func (w *workspace) signature(id string, intact bool, extra string) string {
	return fmt.Sprintf(`  - id: %s
    signer: signer.pem
    crls: [root.crl]
    signing-time: %s
    digest-algorithm: SHA-256
    intact: %v
%s`, id, w.now.Add(-10*time.Minute).Format(time.RFC3339), intact, extra)
}

func (w *workspace) timestamp(t *testing.T, genTime time.Time) string {
	t.Helper()
	covered := []byte("signature value")
	w.write(t, "covered.bin", string(covered))
	return fmt.Sprintf(`    timestamps:
      - id: ts-1
        type: signature
        gen-time: %s
        hash-algorithm: SHA-256
        imprint: "%s"
        covered: covered.bin
        signer: tsa.pem
`, genTime.Format(time.RFC3339), hex.EncodeToString(testpki.Digest(covered)))
}

// stampedTimestamp issues an RFC 3161 token from the workspace TSA and
// references it from a timestamp entry.
func (w *workspace) stampedTimestamp(t *testing.T, genTime time.Time) string {
	t.Helper()
	covered := []byte("signature value")
	w.write(t, "covered.bin", string(covered))
	s, err := timestamps.NewStamper(w.tsa.Cert, w.tsa.Key, timestamps.WithClock(clockwork.NewFakeClockAt(genTime)))
	require.NoError(t, err)
	der, err := s.Stamp(covered)
	require.NoError(t, err)
	w.write(t, "ts.der", string(der))
	return `    timestamps:
      - id: ts-1
        type: signature
        token: ts.der
        covered: covered.bin
`
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVerifyValid(t *testing.T) {
	w := newWorkspace(t)
	w.crl(t, "root.crl")
	bundle := w.bundle(t, "signatures:\n"+w.signature("sig-1", true, ""))

	code, out, errOut := run(t, "verify", "--config", w.config, "--at", w.now.Format(time.RFC3339), bundle)

	assert.Equal(t, ExitValid, code, errOut)
	assert.Contains(t, out, "Overall Result: VALID")
	assert.Contains(t, out, "Policy: default")
	assert.Contains(t, out, "CLI Signer")
}

func TestVerifyExitCodes(t *testing.T) {
	w := newWorkspace(t)

	t.Run("revoked without proof of existence", func(t *testing.T) {
		w.crl(t, "root.crl", w.signer)
		bundle := w.bundle(t, "signatures:\n"+w.signature("sig-1", true, ""))
		code, out, _ := run(t, "verify", "-c", w.config, "--at", w.now.Format(time.RFC3339), bundle)
		assert.Equal(t, ExitIndeterminate, code)
		assert.Contains(t, out, "INDETERMINATE/REVOKED_NO_POE")
	})

	t.Run("revoked with timestamp before revocation", func(t *testing.T) {
		w.crl(t, "root.crl", w.signer)
		sig := w.signature("sig-1", true, w.timestamp(t, w.now.Add(-30*time.Minute)))
		bundle := w.bundle(t, "signatures:\n"+sig)
		code, out, errOut := run(t, "verify", "-c", w.config, "--at", w.now.Format(time.RFC3339), bundle)
		assert.Equal(t, ExitValid, code, out+errOut)
	})

	t.Run("revoked with stamped token before revocation", func(t *testing.T) {
		w.crl(t, "root.crl", w.signer)
		sig := w.signature("sig-1", true, w.stampedTimestamp(t, w.now.Add(-30*time.Minute)))
		bundle := w.bundle(t, "signatures:\n"+sig)
		code, out, errOut := run(t, "verify", "-c", w.config, "--at", w.now.Format(time.RFC3339), bundle)
		assert.Equal(t, ExitValid, code, out+errOut)
	})

	t.Run("broken signature", func(t *testing.T) {
		w.crl(t, "root.crl")
		bundle := w.bundle(t, "signatures:\n"+w.signature("sig-1", false, ""))
		code, out, _ := run(t, "verify", "-c", w.config, "--at", w.now.Format(time.RFC3339), bundle)
		assert.Equal(t, ExitInvalid, code)
		assert.Contains(t, out, "INVALID/SIG_CRYPTO_FAILURE")
	})
}

func TestVerifyJSON(t *testing.T) {
	w := newWorkspace(t)
	w.crl(t, "root.crl")
	bundle := w.bundle(t, "signatures:\n"+w.signature("first", true, "")+w.signature("second", true, ""))
	metrics := filepath.Join(w.dir, "metrics.prom")

	code, out, errOut := run(t, "verify", "-c", w.config, "-f", "json", "--at", w.now.Format(time.RFC3339),
		"--metrics-file", metrics, bundle)
	require.Equal(t, ExitValid, code, errOut)

	var report struct {
		ValidationTime time.Time `json:"validationTime"`
		Signatures     []struct {
			ID         string           `json:"id"`
			Conclusion *ades.Conclusion `json:"conclusion"`
		} `json:"signatures"`
		Conclusion *ades.Conclusion `json:"conclusion"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.ValidationTime.Equal(w.now))
	require.Len(t, report.Signatures, 2)
	assert.Equal(t, "first", report.Signatures[0].ID)
	assert.Equal(t, "second", report.Signatures[1].ID)
	assert.True(t, report.Conclusion.IsValid())
	assert.FileExists(t, metrics)
}

func TestVerifyPolicyOverride(t *testing.T) {
	w := newWorkspace(t)
	w.crl(t, "root.crl")
	policy := w.write(t, "policy.yaml", `
name: needs-location
constraints:
  signer-location:
    mandatory: true
`)
	bundle := w.bundle(t, "signatures:\n"+w.signature("sig-1", true, ""))

	code, out, _ := run(t, "verify", "-c", w.config, "-p", policy, "--at", w.now.Format(time.RFC3339), bundle)
	assert.Equal(t, ExitInvalid, code)
	assert.Contains(t, out, "Policy: needs-location")
	assert.Contains(t, out, "INVALID/SIG_CONSTRAINTS_FAILURE")
}

func TestVerifyUsesClock(t *testing.T) {
	w := newWorkspace(t)
	w.crl(t, "root.crl")
	bundle := w.bundle(t, "signatures:\n"+w.signature("sig-1", true, ""))

	opts := &VerifyOptions{ConfigFile: w.config, Format: "text", clock: clockwork.NewFakeClockAt(w.now)}
	report, err := runVerify(t.Context(), bundle, opts)
	require.NoError(t, err)
	assert.True(t, report.ValidationTime.Equal(w.now))
	assert.True(t, report.Conclusion.IsValid(), report.ToSimpleText(nil))
}

func TestVerifyErrors(t *testing.T) {
	w := newWorkspace(t)
	w.crl(t, "root.crl")
	bundle := w.bundle(t, "signatures:\n"+w.signature("sig-1", true, ""))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing config flag", []string{"verify", bundle}, "config"},
		{"missing bundle", []string{"verify", "-c", w.config}, "accepts 1 arg"},
		{"bad format", []string{"verify", "-c", w.config, "-f", "xml", bundle}, "unknown output format"},
		{"bad time", []string{"verify", "-c", w.config, "--at", "yesterday", bundle}, "invalid --at"},
		{"no such bundle", []string{"verify", "-c", w.config, filepath.Join(w.dir, "nope.yaml")}, "failed to read bundle"},
		{"no such config", []string{"verify", "-c", filepath.Join(w.dir, "nope.yaml"), bundle}, "failed to read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := run(t, tt.args...)
			assert.Equal(t, ExitError, code)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, ExitValid, code)
	assert.True(t, strings.HasPrefix(out, "sigvalidate version "+Version))
}
