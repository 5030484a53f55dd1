// Package sourceclient fetches source packages and owner identity from the
// upstream source-retrieval service, with bounded retries and content-
// disposition-derived filenames that cannot escape the destination
// directory.
package sourceclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/hashicorp/go-retryablehttp"
)

// Config controls the HTTP client's endpoint, retry policy and TLS
// behavior.
type Config struct {
	Endpoint   string `long:"source-endpoint"    description:"base URL of the upstream source-retrieval service"`
	VerifyTLS  bool   `long:"source-verify-tls"  description:"verify the source service's TLS certificate" default:"true"`
	RetryMax   int    `long:"source-retry-max"   description:"maximum number of retries on transient errors" default:"10"`
	RetryWait  time.Duration `long:"source-retry-wait" description:"base backoff between retries" default:"500ms"`
	Timeout    time.Duration `long:"source-timeout"    description:"per-request timeout" default:"60s"`
}

// Client fetches source content and owner metadata from the source
// service. It is built on hashicorp/go-retryablehttp so transient network
// and 5xx failures are retried with backoff before being surfaced.
type Client struct {
	logger lager.Logger
	cfg    Config
	http   *retryablehttp.Client
}

func New(logger lager.Logger, cfg Config) *Client {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 10
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWait
	rc.RetryWaitMax = cfg.RetryWait * 8
	rc.Logger = nil // the session logger below replaces retryablehttp's own
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.HTTPClient.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}, //nolint:gosec -- operator opt-in via Config.VerifyTLS
	}
	rc.CheckRetry = retryablehttp.DefaultRetryPolicy
	// Hand the last response or error back unchanged once retries are
	// exhausted, so classifyStatus and classifyTransportError see it.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{logger: logger.Session("source-client"), cfg: cfg, http: rc}
}

func (c *Client) path(p string) string {
	return strings.TrimRight(c.cfg.Endpoint, "/") + p
}

// GetSourceContent fetches the bytes of source package sourceID and writes
// them to a file under saveTo, returning the resulting SourcePackage. The
// destination filename is derived from the response's content-disposition
// header when present; any derived path that would, after normalization,
// escape saveTo is rejected without writing to disk.
func (c *Client) GetSourceContent(ctx context.Context, sourceID, token, saveTo string) (compiler.SourcePackage, error) {
	log := c.logger.Session("get-source-content", lager.Data{"source_id": sourceID})

	reqURL := c.path(fmt.Sprintf("/%s/content", url.PathEscape(sourceID)))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return compiler.SourcePackage{}, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		classified := classifyTransportError(err)
		log.Error("request-failed", classified)
		return compiler.SourcePackage{}, classified
	}
	defer resp.Body.Close()

	if err := classifyStatus(reqURL, resp.StatusCode); err != nil {
		log.Info("non-success-status", lager.Data{"status": resp.StatusCode})
		return compiler.SourcePackage{}, err
	}

	filename, err := filenameFor(resp.Header.Get("Content-Disposition"), sourceID)
	if err != nil {
		return compiler.SourcePackage{}, err
	}

	destPath, err := safeJoin(saveTo, filename)
	if err != nil {
		log.Error("path-escape-rejected", err, lager.Data{"filename": filename})
		return compiler.SourcePackage{}, err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return compiler.SourcePackage{}, err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return compiler.SourcePackage{}, err
	}

	return compiler.SourcePackage{
		SourceID: sourceID,
		Path:     destPath,
		ETag:     strings.Trim(resp.Header.Get("ETag"), `"`),
	}, nil
}

// Owner resolves the principal who owns sourceID, as reported by the
// source service.
func (c *Client) Owner(ctx context.Context, sourceID, checksum, token string) (string, error) {
	reqURL := c.path(fmt.Sprintf("/%s/%s/owner", url.PathEscape(sourceID), url.PathEscape(checksum)))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(reqURL, resp.StatusCode); err != nil {
		return "", err
	}

	owner, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(owner)), nil
}

func classifyStatus(reqURL string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return RequestUnauthorizedError{URL: reqURL}
	case code == http.StatusForbidden:
		return RequestForbiddenError{URL: reqURL}
	case code == http.StatusNotFound:
		return NotFoundError{URL: reqURL}
	case code == http.StatusRequestEntityTooLarge:
		return OversizeError{URL: reqURL}
	case code >= 500:
		return RequestFailedError{URL: reqURL, StatusCode: code}
	default:
		return RequestFailedError{URL: reqURL, StatusCode: code}
	}
}

func classifyTransportError(err error) error {
	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return SecurityExceptionError{Cause: err}
	}
	if strings.Contains(err.Error(), "x509") || strings.Contains(err.Error(), "tls:") {
		return SecurityExceptionError{Cause: err}
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return ConnectionFailedError{Cause: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ConnectionFailedError{Cause: err}
	}

	return ConnectionFailedError{Cause: err}
}

var contentDispositionFilename = regexp.MustCompile(`filename="?([^";]+)"?`)

func filenameFor(contentDisposition, sourceID string) (string, error) {
	if contentDisposition == "" {
		return sourceID + ".tar.gz", nil
	}
	m := contentDispositionFilename.FindStringSubmatch(contentDisposition)
	if len(m) != 2 {
		return sourceID + ".tar.gz", nil
	}
	return m[1], nil
}

// safeJoin joins dir and name, and rejects any result that normalizes to a
// path outside dir (property 7: path safety).
func safeJoin(dir, name string) (string, error) {
	joined := filepath.Join(dir, name)
	cleanDir := filepath.Clean(dir)
	rel, err := filepath.Rel(cleanDir, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", PathEscapeError{Filename: name}
	}
	return joined, nil
}
