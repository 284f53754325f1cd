// Package fetchers retrieves certificates, CRLs and OCSP responses over
// HTTP on behalf of the validation context.
package fetchers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/georgepadayatti/sigvalidate/certvalidator/revinfo"
	"github.com/georgepadayatti/sigvalidate/keys"
)

// Common errors
var (
	ErrFetchFailed          = errors.New("fetch failed")
	ErrUnsupportedScheme    = errors.New("unsupported URL scheme")
	ErrCertParseFailed      = errors.New("certificate parse failed")
	ErrNoIssuerURLs         = errors.New("no issuing certificate URLs")
	ErrNoDistributionPoints = errors.New("no CRL distribution points")
	ErrNoOCSPServers        = errors.New("no OCSP servers")
	ErrResponseTooLarge     = errors.New("response exceeds size limit")
)

// FetcherConfig configures the fetcher behavior.
type FetcherConfig struct {
	// Timeout bounds every single HTTP request.
	Timeout time.Duration
	// MaxResponseSize in bytes
	MaxResponseSize int64
	// UserAgent header
	UserAgent string
	// UseCache enables the response cache.
	UseCache bool
	// CacheTTL is the lifetime of cached responses.
	CacheTTL time.Duration
	// Retry configures backoff. Nil means DefaultRetryConfig.
	Retry *RetryConfig
	// CircuitBreaker optionally guards all outgoing requests.
	CircuitBreaker *CircuitBreaker
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
	// Metrics receives request counters. It may be nil.
	Metrics *Metrics
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() *FetcherConfig {
	return &FetcherConfig{
		Timeout:         15 * time.Second,
		MaxResponseSize: 10 * 1024 * 1024,
		UserAgent:       "sigvalidate/1.0",
		UseCache:        true,
		CacheTTL:        time.Hour,
		Retry:           DefaultRetryConfig(),
	}
}

// Fetcher performs HTTP requests with caching, request coalescing and
// retries.
type Fetcher struct {
	config *FetcherConfig
	client *http.Client
	cache  *cache.Cache
	group  singleflight.Group
	logger *zap.Logger
}

// NewFetcher creates a new fetcher.
func NewFetcher(config *FetcherConfig) (*Fetcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	client := config.HTTPClient
	if client == nil {
		hc := DefaultHTTPClientConfig()
		if config.Timeout > 0 {
			hc.Timeout = config.Timeout
		}
		var err error
		if client, err = NewHTTPClient(hc); err != nil {
			return nil, fmt.Errorf("creating HTTP client: %w", err)
		}
	}
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = DefaultConfig().MaxResponseSize
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Fetcher{
		config: config,
		client: client,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}, nil
}

// ClearCache drops all cached responses.
func (f *Fetcher) ClearCache() {
	f.cache.Flush()
}

// Get fetches url with a GET request.
func (f *Fetcher) Get(ctx context.Context, kind, rawURL string) ([]byte, error) {
	if err := checkURL(rawURL); err != nil {
		return nil, err
	}
	return f.do(ctx, kind, kind+"|"+rawURL, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
}

// Post sends body to url with a POST request.
func (f *Fetcher) Post(ctx context.Context, kind, rawURL, contentType string, body []byte) ([]byte, error) {
	if err := checkURL(rawURL); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(body)
	key := kind + "|" + rawURL + "|" + hex.EncodeToString(sum[:])
	return f.do(ctx, kind, key, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
}

func checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrFetchFailed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, kind, key string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	if f.config.UseCache {
		if data, ok := f.cache.Get(key); ok {
			f.config.Metrics.request(kind, ResultCached)
			return data.([]byte), nil
		}
	}

	v, err, shared := f.group.Do(key, func() (interface{}, error) {
		if cb := f.config.CircuitBreaker; cb != nil && !cb.Allow() {
			f.config.Metrics.request(kind, ErrCircuitOpenLbl)
			return nil, ErrCircuitOpen
		}

		retry := *f.retryConfig()
		retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			f.config.Metrics.retry(kind)
			f.logger.Debug("Retrying fetch", zap.String("kind", kind), zap.Int("attempt", attempt),
				zap.Duration("delay", delay), zap.Error(err))
		}

		start := time.Now()
		data, result := Retry(ctx, &retry, func(ctx context.Context) ([]byte, error) {
			req, err := build(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
			}
			return f.roundTrip(req)
		})
		f.config.Metrics.observe(kind, time.Since(start).Seconds())
		if cb := f.config.CircuitBreaker; cb != nil {
			cb.Record(result.Err())
		}
		if !result.Success {
			f.config.Metrics.request(kind, ErrTransmit)
			return nil, result.Err()
		}
		if f.config.UseCache {
			f.cache.SetDefault(key, data)
		}
		f.config.Metrics.request(kind, ResultSuccess)
		return data, nil
	})
	if shared {
		f.logger.Debug("Fetch coalesced", zap.String("kind", kind))
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *Fetcher) retryConfig() *RetryConfig {
	if f.config.Retry != nil {
		return f.config.Retry
	}
	return DefaultRetryConfig()
}

func (f *Fetcher) roundTrip(req *http.Request) ([]byte, error) {
	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(data)) > f.config.MaxResponseSize {
		return nil, fmt.Errorf("%w: %w: more than %d bytes", ErrFetchFailed, ErrResponseTooLarge, f.config.MaxResponseSize)
	}
	return data, nil
}

// FetchCertificates fetches the certificates published at url. DER, PEM
// and concatenated DER bodies are understood.
func (f *Fetcher) FetchCertificates(ctx context.Context, rawURL string) ([]*x509.Certificate, error) {
	data, err := f.Get(ctx, KindCertificate, rawURL)
	if err != nil {
		return nil, err
	}
	certs, err := keys.LoadCertsFromPemDerData(data)
	if err != nil {
		f.config.Metrics.request(KindCertificate, ErrParse)
		return nil, fmt.Errorf("%w: %v", ErrCertParseFailed, err)
	}
	return certs, nil
}

// FetchCRL fetches and parses the CRL at url.
func (f *Fetcher) FetchCRL(ctx context.Context, rawURL string) (*revinfo.CRLInfo, error) {
	data, err := f.Get(ctx, KindCRL, rawURL)
	if err != nil {
		return nil, err
	}
	blocks, err := keys.LoadDERBlocks(data, keys.BlockCRL)
	if err != nil {
		f.config.Metrics.request(KindCRL, ErrParse)
		return nil, fmt.Errorf("%w: %v", revinfo.ErrMalformedCRL, err)
	}
	info, err := revinfo.ParseCRL(blocks[0], rawURL)
	if err != nil {
		f.config.Metrics.request(KindCRL, ErrParse)
		return nil, err
	}
	return info, nil
}

// FetchOCSP queries the responder at url about cert. POST is tried first,
// GET with the base64 request in the path second.
func (f *Fetcher) FetchOCSP(ctx context.Context, rawURL string, cert, issuer *x509.Certificate) (*revinfo.OCSPInfo, error) {
	req, err := revinfo.CreateOCSPRequest(cert, issuer, 0)
	if err != nil {
		return nil, fmt.Errorf("creating OCSP request: %w", err)
	}

	data, err := f.Post(ctx, KindOCSP, rawURL, "application/ocsp-request", req)
	if err != nil {
		getURL := strings.TrimSuffix(rawURL, "/") + "/" + url.PathEscape(base64.StdEncoding.EncodeToString(req))
		var getErr error
		if data, getErr = f.Get(ctx, KindOCSP, getURL); getErr != nil {
			return nil, fmt.Errorf("POST: %v; GET: %w", err, getErr)
		}
	}
	info, err := revinfo.ParseOCSP(data, rawURL)
	if err != nil {
		f.config.Metrics.request(KindOCSP, ErrParse)
		return nil, err
	}
	return info, nil
}
