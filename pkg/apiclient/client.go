package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
)

const (
	OutcomeOK             = "ok"
	OutcomeInvalidPayload = "invalid_response"
	OutcomeServerError    = "server_error"
	OutcomeClientError    = "client_error"
	OutcomeNetworkError   = "network_error"
)

var (
	ErrUnauthenticated = appErrors.WithType(
		appErrors.New("UNAUTHENTICATED", http.StatusUnauthorized, "no credential available for upstream call"),
		appErrors.TypeAuthentication,
	)
	errNoCandidates = appErrors.WithType(
		appErrors.New("NO_ENDPOINT", http.StatusServiceUnavailable, "no api endpoint configured"),
		appErrors.TypeNetwork,
	)
)

// Options describe a single call.
type Options struct {
	Method string
	Body   interface{}
	Query  map[string]string
}

// Observer is notified once per attempted candidate.
type Observer func(base, outcome string)

// Config configures a Client.
type Config struct {
	Candidates []Candidate
	Tokens     TokenSource
	Timeout    time.Duration
	Observer   Observer
	Logger     *zap.Logger
}

// Client calls the payments API, failing over across candidate bases.
type Client struct {
	http       *resty.Client
	candidates []Candidate
	tokens     TokenSource
	observe    Observer
	logger     *zap.Logger
}

// envelope is the upstream wire shape. Data is left raw so callers decode it.
type envelope struct {
	Success   *bool           `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorType string          `json:"errorType"`
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = StaticTokenSource("")
	}
	if cfg.Observer == nil {
		cfg.Observer = func(string, string) {}
	}
	return &Client{
		http:       resty.New().SetTimeout(cfg.Timeout).SetHeader("Accept", "application/json"),
		candidates: cfg.Candidates,
		tokens:     cfg.Tokens,
		observe:    cfg.Observer,
		logger:     cfg.Logger,
	}
}

// Candidates returns the resolved bases in try order.
func (c *Client) Candidates() []Candidate {
	return append([]Candidate(nil), c.candidates...)
}

// Call executes endpoint against each candidate until one succeeds. On
// success the payload's data (or the whole body when there is no envelope)
// is decoded into out. Errors are always *errors.Error.
func (c *Client) Call(ctx context.Context, endpoint string, opts Options, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return appErrors.Wrap(err, ErrUnauthenticated.Code, ErrUnauthenticated.Status, ErrUnauthenticated.Message)
	}
	if token == "" {
		return appErrors.Clone(ErrUnauthenticated, "")
	}
	if len(c.candidates) == 0 {
		return appErrors.Clone(errNoCandidates, "")
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	var lastErr *appErrors.Error
	for _, candidate := range c.candidates {
		body, outcome, callErr := c.attempt(ctx, candidate, endpoint, method, token, opts)
		c.observe(candidate.Label(), outcome)
		if callErr == nil {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInvalidResponse.Code, appErrors.ErrInvalidResponse.Status, "decode upstream payload")
			}
			return nil
		}

		lastErr = callErr
		c.logger.Warn("api candidate failed",
			zap.String("base", candidate.Label()),
			zap.String("endpoint", endpoint),
			zap.String("outcome", outcome),
			zap.Error(callErr),
		)
		if outcome == OutcomeClientError && !candidate.Relative {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	return lastErr
}

func (c *Client) attempt(ctx context.Context, candidate Candidate, endpoint, method, token string, opts Options) ([]byte, string, *appErrors.Error) {
	req := c.http.R().SetContext(ctx).SetAuthToken(token)
	if opts.Body != nil {
		req.SetBody(opts.Body)
	}
	if len(opts.Query) > 0 {
		req.SetQueryParams(opts.Query)
	}

	resp, err := req.Execute(method, candidate.URL(endpoint))
	if err != nil {
		e := appErrors.Wrap(err, appErrors.ErrNetwork.Code, appErrors.ErrNetwork.Status, fmt.Sprintf("call %s failed", candidate.Label()))
		e.Type = appErrors.TypeNetwork
		return nil, OutcomeNetworkError, e
	}

	raw := resp.Body()
	if !isJSON(resp.Header().Get("Content-Type")) {
		return nil, OutcomeInvalidPayload, appErrors.Clone(appErrors.ErrInvalidResponse,
			fmt.Sprintf("unexpected content type %q from %s", resp.Header().Get("Content-Type"), candidate.Label()))
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			e := appErrors.Wrap(err, appErrors.ErrInvalidResponse.Code, appErrors.ErrInvalidResponse.Status, "malformed upstream payload")
			e.Type = appErrors.TypeServer
			return nil, OutcomeInvalidPayload, e
		}
	}

	status := resp.StatusCode()
	switch {
	case status >= http.StatusInternalServerError || (status < 400 && env.Success != nil && !*env.Success):
		return nil, OutcomeServerError, appErrors.Clone(appErrors.ErrUpstream, upstreamMessage(env, "upstream server error"))
	case status >= 400:
		e := appErrors.Clone(appErrors.ErrUpstreamClient, upstreamMessage(env, "upstream rejected request"))
		e.Status = status
		e.Type = clientErrorType(status, env.ErrorType)
		return nil, OutcomeClientError, e
	}

	if len(env.Data) > 0 {
		return env.Data, OutcomeOK, nil
	}
	return raw, OutcomeOK, nil
}

func isJSON(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "application/json") || strings.Contains(ct, "+json")
}

func upstreamMessage(env envelope, fallback string) string {
	if env.Error != "" {
		return env.Error
	}
	return fallback
}

func clientErrorType(status int, hinted string) appErrors.Type {
	switch appErrors.Type(hinted) {
	case appErrors.TypeValidation, appErrors.TypeAuthentication, appErrors.TypeAuthorization, appErrors.TypeNotFound:
		return appErrors.Type(hinted)
	}
	switch status {
	case http.StatusUnauthorized:
		return appErrors.TypeAuthentication
	case http.StatusForbidden:
		return appErrors.TypeAuthorization
	case http.StatusNotFound:
		return appErrors.TypeNotFound
	}
	return appErrors.TypeValidation
}
