// Validation report assembled from per-signature conclusions.

package ades

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CertificateInfo describes one certificate of a signature chain.
type CertificateInfo struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serialNumber"`
	NotBefore    time.Time `json:"notBefore"`
	NotAfter     time.Time `json:"notAfter"`
	IsSelfSigned bool      `json:"isSelfSigned"`
	IsCA         bool      `json:"isCA"`
	Trusted      bool      `json:"trusted"`
	KeyUsage     []string  `json:"keyUsage,omitempty"`
}

var keyUsageNames = []struct {
	usage x509.KeyUsage
	name  string
}{
	{x509.KeyUsageDigitalSignature, "digitalSignature"},
	{x509.KeyUsageContentCommitment, "contentCommitment"},
	{x509.KeyUsageKeyEncipherment, "keyEncipherment"},
	{x509.KeyUsageDataEncipherment, "dataEncipherment"},
	{x509.KeyUsageKeyAgreement, "keyAgreement"},
	{x509.KeyUsageCertSign, "keyCertSign"},
	{x509.KeyUsageCRLSign, "cRLSign"},
}

// NewCertificateInfo creates certificate info from an x509 certificate.
func NewCertificateInfo(cert *x509.Certificate, id string) *CertificateInfo {
	info := &CertificateInfo{
		ID:           id,
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		IsSelfSigned: isSelfSigned(cert),
		IsCA:         cert.IsCA,
	}
	for _, ku := range keyUsageNames {
		if cert.KeyUsage&ku.usage != 0 {
			info.KeyUsage = append(info.KeyUsage, ku.name)
		}
	}
	return info
}

func isSelfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawSubject, cert.RawIssuer) &&
		cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

// IsValidAt checks if the certificate was valid at the given time.
func (c *CertificateInfo) IsValidAt(at time.Time) bool {
	return !at.Before(c.NotBefore) && !at.After(c.NotAfter)
}

// RevocationInfo describes one revocation datum used for a signature.
type RevocationInfo struct {
	Subject        string     `json:"subject"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Origin         string     `json:"origin"`
	ThisUpdate     time.Time  `json:"thisUpdate"`
	NextUpdate     *time.Time `json:"nextUpdate,omitempty"`
	RevocationDate *time.Time `json:"revocationDate,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	SourceURL      string     `json:"sourceUrl,omitempty"`
}

// SignatureReport is the report entry of one signature.
type SignatureReport struct {
	ID                string             `json:"id"`
	SigningTime       *time.Time         `json:"signingTime,omitempty"`
	BestSignatureTime time.Time          `json:"bestSignatureTime"`
	Chain             []*CertificateInfo `json:"certificateChain,omitempty"`
	Revocations       []*RevocationInfo  `json:"revocationData,omitempty"`
	IncompleteChain   bool               `json:"incompleteChain,omitempty"`
	SoftFailures      []string           `json:"softFailures,omitempty"`
	Conclusion        *Conclusion        `json:"conclusion"`
}

// Report is the validation report of a whole document.
type Report struct {
	ID             string             `json:"id"`
	ValidationTime time.Time          `json:"validationTime"`
	Policy         string             `json:"policy,omitempty"`
	Signatures     []*SignatureReport `json:"signatures"`
	Conclusion     *Conclusion        `json:"conclusion"`
}

// NewReport creates an empty report.
func NewReport(id string, validationTime time.Time) *Report {
	return &Report{
		ID:             id,
		ValidationTime: validationTime,
		Signatures:     []*SignatureReport{},
	}
}

// AddSignature adds a signature entry and recomputes the overall
// conclusion.
func (r *Report) AddSignature(sig *SignatureReport) {
	r.Signatures = append(r.Signatures, sig)
	r.ComputeOverallConclusion()
}

// ComputeOverallConclusion derives the document verdict. Any INVALID
// signature makes the document INVALID, otherwise any non-VALID signature
// makes it INDETERMINATE. The sub-indication is taken from the first
// signature with the deciding indication.
func (r *Report) ComputeOverallConclusion() {
	if len(r.Signatures) == 0 {
		r.Conclusion = Indeterminate(SubSignedDataNotFound)
		return
	}

	var worst *SignatureReport
	var explanations []Explanation
	for _, sig := range r.Signatures {
		c := sig.Conclusion
		if c == nil {
			c = Indeterminate(SubTryLater)
		}
		explanations = append(explanations, Explanation{
			Constraint: "signature",
			Status:     statusOf(c),
			Params:     []Param{P("id", sig.ID), P("conclusion", c)},
		})
		if severity(c) > severity(conclusionOf(worst)) {
			worst = sig
		}
	}
	if worst == nil {
		r.Conclusion = Valid(explanations...)
		return
	}
	c := conclusionOf(worst)
	r.Conclusion = mustConclusion(c.Indication(), c.SubIndication(), explanations)
}

func conclusionOf(sig *SignatureReport) *Conclusion {
	if sig == nil {
		return nil
	}
	if sig.Conclusion == nil {
		return Indeterminate(SubTryLater)
	}
	return sig.Conclusion
}

func severity(c *Conclusion) int {
	switch {
	case c == nil || c.IsValid():
		return 0
	case c.IsIndeterminate():
		return 1
	default:
		return 2
	}
}

func statusOf(c *Conclusion) Status {
	if c.IsValid() {
		return StatusPassed
	}
	return StatusFailed
}

func (r *Report) count(ind Indication) int {
	n := 0
	for _, sig := range r.Signatures {
		if sig.Conclusion != nil && sig.Conclusion.Indication() == ind {
			n++
		}
	}
	return n
}

// SignatureCount returns the number of signatures.
func (r *Report) SignatureCount() int { return len(r.Signatures) }

// ValidCount returns the number of VALID signatures.
func (r *Report) ValidCount() int { return r.count(IndicationValid) }

// InvalidCount returns the number of INVALID signatures.
func (r *Report) InvalidCount() int { return r.count(IndicationInvalid) }

// IndeterminateCount returns the number of INDETERMINATE signatures.
func (r *Report) IndeterminateCount() int { return r.count(IndicationIndeterminate) }

// ToJSON serializes the report to indented JSON.
func (r *Report) ToJSON() ([]byte, error) {
	if r.Conclusion == nil {
		r.ComputeOverallConclusion()
	}
	return json.MarshalIndent(r, "", "  ")
}

// SimpleReportFormat controls ToSimpleText.
type SimpleReportFormat struct {
	IncludeDetails     bool
	IncludeChain       bool
	IncludeRevocations bool
}

// DefaultSimpleReportFormat returns the default simple report format.
func DefaultSimpleReportFormat() *SimpleReportFormat {
	return &SimpleReportFormat{
		IncludeDetails:     true,
		IncludeChain:       true,
		IncludeRevocations: false,
	}
}

// ToSimpleText renders a human readable summary.
func (r *Report) ToSimpleText(format *SimpleReportFormat) string {
	if format == nil {
		format = DefaultSimpleReportFormat()
	}
	if r.Conclusion == nil {
		r.ComputeOverallConclusion()
	}

	var sb strings.Builder
	sb.WriteString("=== VALIDATION REPORT ===\n")
	fmt.Fprintf(&sb, "Report ID: %s\n", r.ID)
	fmt.Fprintf(&sb, "Validation Time: %s\n", r.ValidationTime.Format(time.RFC3339))
	if r.Policy != "" {
		fmt.Fprintf(&sb, "Policy: %s\n", r.Policy)
	}
	fmt.Fprintf(&sb, "\nOverall Result: %s\n", r.Conclusion)
	fmt.Fprintf(&sb, "\nSignatures: %d total, %d valid, %d invalid, %d indeterminate\n",
		r.SignatureCount(), r.ValidCount(), r.InvalidCount(), r.IndeterminateCount())

	for i, sig := range r.Signatures {
		fmt.Fprintf(&sb, "\n--- Signature %d ---\n", i+1)
		fmt.Fprintf(&sb, "ID: %s\n", sig.ID)
		if sig.SigningTime != nil {
			fmt.Fprintf(&sb, "Claimed Signing Time: %s\n", sig.SigningTime.Format(time.RFC3339))
		}
		fmt.Fprintf(&sb, "Best Signature Time: %s\n", sig.BestSignatureTime.Format(time.RFC3339))

		if format.IncludeDetails && len(sig.Chain) > 0 {
			fmt.Fprintf(&sb, "Signer: %s\n", sig.Chain[0].Subject)
			fmt.Fprintf(&sb, "Issuer: %s\n", sig.Chain[0].Issuer)
		}
		if format.IncludeChain && len(sig.Chain) > 0 {
			sb.WriteString("Certificate Chain:\n")
			for j, cert := range sig.Chain {
				trust := ""
				if cert.Trusted {
					trust = " [trusted]"
				}
				fmt.Fprintf(&sb, "  %d. %s%s\n", j+1, cert.Subject, trust)
			}
			if sig.IncompleteChain {
				sb.WriteString("  (incomplete)\n")
			}
		}
		if format.IncludeRevocations {
			for _, rev := range sig.Revocations {
				fmt.Fprintf(&sb, "Revocation: %s %s (%s) for %s\n", rev.Type, rev.Status, rev.Origin, rev.Subject)
			}
		}

		if sig.Conclusion == nil {
			continue
		}
		fmt.Fprintf(&sb, "Result: %s\n", sig.Conclusion)
		for _, e := range sig.Conclusion.Explanations() {
			switch e.Status {
			case StatusFailed:
				fmt.Fprintf(&sb, "  ERROR: %s%s\n", e.Constraint, formatParams(e.Params))
			case StatusWarning:
				fmt.Fprintf(&sb, "  WARNING: %s%s\n", e.Constraint, formatParams(e.Params))
			}
		}
		for _, sf := range sig.SoftFailures {
			fmt.Fprintf(&sb, "  NOTE: %s\n", sf)
		}
	}
	return sb.String()
}

func formatParams(params []Param) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.Key + "=" + p.Value
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
