// Package relay implements the builder side of the mev-boost relay API.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/mev-bidder/config"
	"github.com/flashbots/mev-bidder/server/params"
	"github.com/flashbots/mev-bidder/types"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

const (
	DefaultGetValidatorsTimeout = 2 * time.Second
	DefaultSubmitTimeout        = 2 * time.Second

	maxResponseBytes = 16 * 1024 * 1024
)

// UserAgent is a custom string type to avoid confusing url + userAgent parameters in requests
type UserAgent string

// EndpointOpts configures one relay endpoint
type EndpointOpts struct {
	Log                  *logrus.Entry
	Name                 string
	URL                  string
	Group                string
	AuthorizationHeader  string
	DisableGzip          bool
	Blacklist            []common.Address
	GetValidatorsTimeout time.Duration
	SubmitTimeout        time.Duration
	UserAgent            UserAgent
}

// Endpoint is a single relay. It is immutable after construction and safe for concurrent use.
type Endpoint struct {
	log        *logrus.Entry
	name       string
	url        *url.URL
	group      string
	authHeader string
	gzip       bool
	blacklist  map[common.Address]struct{}
	userAgent  UserAgent

	httpClientGetValidators http.Client
	httpClientSubmit        http.Client
}

// NewEndpoint validates opts and creates an endpoint
func NewEndpoint(opts EndpointOpts) (*Endpoint, error) {
	relayURL := strings.TrimSpace(opts.URL)
	if !strings.HasPrefix(relayURL, "http") {
		relayURL = "https://" + relayURL
	}
	parsedURL, err := url.ParseRequestURI(relayURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidRelayURL, err, opts.URL)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: missing host: %s", ErrInvalidRelayURL, opts.URL)
	}
	parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/")

	name := opts.Name
	if name == "" {
		name = parsedURL.Host
	}
	group := opts.Group
	if group == "" {
		group = GetURI(parsedURL, parsedURL.Path)
	}
	getValidatorsTimeout := opts.GetValidatorsTimeout
	if getValidatorsTimeout <= 0 {
		getValidatorsTimeout = DefaultGetValidatorsTimeout
	}
	submitTimeout := opts.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = DefaultSubmitTimeout
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}

	blacklist := make(map[common.Address]struct{}, len(opts.Blacklist))
	for _, addr := range opts.Blacklist {
		blacklist[addr] = struct{}{}
	}

	return &Endpoint{
		log:        log.WithFields(logrus.Fields{"module": "relay", "relay": name}),
		name:       name,
		url:        parsedURL,
		group:      group,
		authHeader: opts.AuthorizationHeader,
		gzip:       !opts.DisableGzip,
		blacklist:  blacklist,
		userAgent:  opts.UserAgent,

		httpClientGetValidators: http.Client{
			Timeout:       getValidatorsTimeout,
			CheckRedirect: httpClientDisallowRedirects,
		},
		httpClientSubmit: http.Client{
			Timeout:       submitTimeout,
			CheckRedirect: httpClientDisallowRedirects,
		},
	}, nil
}

// Name returns the display name of the relay
func (e *Endpoint) Name() string {
	return e.name
}

// URL returns the relay base URL without credentials
func (e *Endpoint) URL() string {
	return GetURI(e.url, e.url.Path)
}

// Group returns the URL of the relay whose infrastructure this endpoint shares, or its own URL
func (e *Endpoint) Group() string {
	return e.group
}

// GzipEnabled reports whether submissions are compressed
func (e *Endpoint) GzipEnabled() bool {
	return e.gzip
}

// IsBlacklisted reports whether addr is on this relay's compliance list
func (e *Endpoint) IsBlacklisted(addr common.Address) bool {
	_, ok := e.blacklist[addr]
	return ok
}

// BlacklistSize returns the number of addresses on this relay's compliance list
func (e *Endpoint) BlacklistSize() int {
	return len(e.blacklist)
}

func (e *Endpoint) String() string {
	return e.name
}

// GetURI returns the full request URI for path on this relay
func (e *Endpoint) GetURI(path string) string {
	return GetURI(e.url, e.url.Path+path)
}

// GetValidators fetches the relay's current validator registrations. The result is not filtered by slot.
func (e *Endpoint) GetValidators(ctx context.Context) ([]types.BuilderGetValidatorsResponseEntry, error) {
	const op = "getValidators"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.GetURI(params.PathGetValidators), nil)
	if err != nil {
		return nil, e.newError(ErrorKindTransport, op, fmt.Errorf("could not prepare request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	e.setCommonHeaders(req)

	code, body, err := e.do(&e.httpClientGetValidators, req)
	if err != nil {
		return nil, e.newError(ErrorKindTransport, op, err)
	}
	if code > 299 {
		return nil, e.newError(ErrorKindTransport, op, fmt.Errorf("%w: %d / %s", ErrHTTPStatus, code, string(body)))
	}

	var entries []types.BuilderGetValidatorsResponseEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, e.newError(ErrorKindDecode, op, fmt.Errorf("could not unmarshal response %s: %w", truncate(body), err))
	}
	e.log.WithField("entries", len(entries)).Debug("fetched validator registrations")
	return entries, nil
}

// PostBlock submits a signed bid. A well-formed rejection is returned as a status with a nil error.
func (e *Endpoint) PostBlock(ctx context.Context, submission *types.SignedBidSubmission) (*types.SendBlockStatus, error) {
	const op = "postBlock"

	payload, err := e.encode(submission)
	if err != nil {
		return nil, e.newError(ErrorKindDecode, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.GetURI(params.PathSubmitBlock), bytes.NewReader(payload))
	if err != nil {
		return nil, e.newError(ErrorKindTransport, op, fmt.Errorf("could not prepare request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	e.setCommonHeaders(req)

	code, body, err := e.do(&e.httpClientSubmit, req)
	if err != nil {
		return nil, e.newError(ErrorKindTransport, op, err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		if code >= 200 && code <= 299 {
			return &types.SendBlockStatus{Code: uint64(code)}, nil
		}
		return nil, e.newError(ErrorKindDecode, op, fmt.Errorf("%w for status code %d", ErrEmptyResponse, code))
	}

	status := new(types.SendBlockStatus)
	if err := json.Unmarshal(body, status); err != nil {
		return nil, e.newError(ErrorKindDecode, op, fmt.Errorf("could not unmarshal response %s: %w", truncate(body), err))
	}
	if status.Code == 0 {
		status.Code = uint64(code)
	}
	e.log.WithFields(logrus.Fields{
		"code":    status.Code,
		"message": status.Message,
	}).Debug("relay answered block submission")
	return status, nil
}

func (e *Endpoint) encode(submission *types.SignedBidSubmission) ([]byte, error) {
	payload, err := json.Marshal(submission)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}
	if !e.gzip {
		return payload, nil
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("could not create gzip writer: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("could not compress request: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("could not compress request: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Endpoint) setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", strings.TrimSpace(fmt.Sprintf("mev-bidder/%s %s", config.Version, e.userAgent)))
	if e.authHeader != "" {
		req.Header.Set("Authorization", e.authHeader)
	}
}

func (e *Endpoint) do(client *http.Client, req *http.Request) (code int, body []byte, err error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("could not read response body for status code %d: %w", resp.StatusCode, err)
	}
	return resp.StatusCode, body, nil
}

func (e *Endpoint) newError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Relay: e.name, Op: op, Cause: cause}
}

// GetURI returns the full request URI with scheme, host, path and args.
func GetURI(url *url.URL, path string) string {
	u2 := *url
	u2.User = nil
	u2.Path = path
	return u2.String()
}

func httpClientDisallowRedirects(_ *http.Request, _ []*http.Request) error {
	return http.ErrUseLastResponse
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
