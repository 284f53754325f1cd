package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
	"github.com/georgepadayatti/sigvalidate/certvalidator/fetchers"
	"github.com/georgepadayatti/sigvalidate/config"
	"github.com/georgepadayatti/sigvalidate/log"
	"github.com/georgepadayatti/sigvalidate/sign/ades"
	"github.com/georgepadayatti/sigvalidate/sign/validation"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	ConfigFile  string
	PolicyFile  string
	At          string
	Format      string
	Online      bool
	Verbose     bool
	MetricsFile string

	// clock is used when At is empty.
	clock clockwork.Clock
}

func newVerifyCommand() *cobra.Command {
	opts := &VerifyOptions{clock: clockwork.NewRealClock()}
	cmd := &cobra.Command{
		Use:   "verify [flags] <bundle.yaml>",
		Short: "Validate the signatures of an evidence bundle",
		Example: `  sigvalidate verify --config sigvalidate.yaml bundle.yaml
  sigvalidate verify --config sigvalidate.yaml --format json --online bundle.yaml
  sigvalidate verify --config sigvalidate.yaml --at 2024-01-01T00:00:00Z bundle.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runVerify(cmd.Context(), args[0], opts)
			if err != nil {
				return cliError{code: ExitError, err: err}
			}
			if err := writeReport(cmd, report, opts); err != nil {
				return cliError{code: ExitError, err: err}
			}
			switch report.Conclusion.Indication() {
			case ades.IndicationInvalid:
				return cliError{code: ExitInvalid, err: fmt.Errorf("document is %s", report.Conclusion)}
			case ades.IndicationIndeterminate:
				return cliError{code: ExitIndeterminate, err: fmt.Errorf("document is %s", report.Conclusion)}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.ConfigFile, "config", "c", "", "configuration file (required)")
	f.StringVarP(&opts.PolicyFile, "policy", "p", "", "policy file, overrides the configured policy")
	f.StringVar(&opts.At, "at", "", "validation time in RFC 3339, defaults to now")
	f.StringVarP(&opts.Format, "format", "f", "text", "output format: text or json")
	f.BoolVar(&opts.Online, "online", false, "fetch missing issuers and revocation data over HTTP")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "include revocation data in text output")
	f.StringVar(&opts.MetricsFile, "metrics-file", "", "write fetcher metrics in text exposition format to this file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runVerify(ctx context.Context, bundlePath string, opts *VerifyOptions) (*ades.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Format != "text" && opts.Format != "json" {
		return nil, fmt.Errorf("unknown output format %q", opts.Format)
	}
	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.PolicyFile != "" {
		cfg.Policy = opts.PolicyFile
	}
	if opts.Online {
		cfg.Fetch.Enabled = true
	}

	logger, err := log.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()
	ctx = log.CtxWith(ctx, logger)

	at := opts.clock.Now().UTC()
	if opts.At != "" {
		if at, err = time.Parse(time.RFC3339, opts.At); err != nil {
			return nil, fmt.Errorf("invalid --at: %w", err)
		}
	}

	policy, err := cfg.LoadPolicy()
	if err != nil {
		return nil, err
	}
	trusted, adjunct, err := cfg.TrustPools()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	var verifier certvalidator.CertificateVerifier = certvalidator.NewOfflineVerifier(trusted, adjunct)
	if cfg.Fetch.Enabled {
		fetcher, err := fetchers.NewFetcher(cfg.FetcherConfig(logger.Named("fetcher"), fetchers.NewMetrics(reg)))
		if err != nil {
			return nil, err
		}
		verifier = fetchers.NewOnlineVerifier(trusted, adjunct, fetcher)
	}

	sigs, err := LoadBundle(bundlePath)
	if err != nil {
		return nil, err
	}
	logger.Debug("Validating bundle",
		zap.String("bundle", bundlePath),
		zap.Int("signatures", len(sigs)),
		zap.String("policy", policy.Name),
		zap.Bool("online", cfg.Fetch.Enabled),
		zap.Time("at", at),
	)

	dv := validation.NewDocumentValidator(nil, verifier,
		validation.WithPolicy(policy),
		validation.WithDocumentLogger(logger),
		validation.WithDocumentValidationTime(at),
		validation.WithConcurrency(cfg.Concurrency),
	)
	results, err := dv.ValidateAll(ctx, sigs)
	if err != nil {
		return nil, err
	}
	report := validation.BuildReport(results, policy, at)

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			return nil, fmt.Errorf("writing metrics: %w", err)
		}
	}
	return report, nil
}

func writeReport(cmd *cobra.Command, report *ades.Report, opts *VerifyOptions) error {
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		data, err := report.ToJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	format := ades.DefaultSimpleReportFormat()
	format.IncludeRevocations = opts.Verbose
	_, err := fmt.Fprint(out, report.ToSimpleText(format))
	return err
}
