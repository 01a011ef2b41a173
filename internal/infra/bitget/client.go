package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"bitget_relay/internal/domain"
	"bitget_relay/internal/infra"
)

// Bitget API Constants
const (
	BaseURLMainnet = "https://api.bitget.com"
	successCode    = "00000"
)

// APIError is a non-2xx reply or a 2xx reply whose envelope code is not success.
// Body is the raw response text, kept for operators.
type APIError struct {
	Path   string
	Status int
	Code   string
	Msg    string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitget api error: path=%s status=%d code=%s msg=%s", e.Path, e.Status, e.Code, e.Msg)
}

func (e *APIError) HTTPStatus() int      { return e.Status }
func (e *APIError) ExchangeCode() string { return e.Code }
func (e *APIError) RawBody() string      { return e.Body }

// Response is a decoded success envelope.
type Response struct {
	Status int
	Code   string
	Msg    string
	Data   json.RawMessage
	Body   []byte
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ClientConfig holds what the transport needs; built from infra.Config by the bootstrap.
type ClientConfig struct {
	RestURL    string
	SandboxURL string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Timeout    time.Duration
}

// Client is the Bitget REST transport (Boundary Layer).
// Every call goes through the negotiator, which picks host and sandbox marker.
type Client struct {
	restURL    string
	sandboxURL string
	httpClient *http.Client
	signer     *Signer
	negotiator *Negotiator
	metrics    *infra.Metrics
	logger     *slog.Logger
}

// NewClient creates a new Bitget API client. Without a SandboxURL the
// negotiator is barred from flipping to sandbox_alt_host.
func NewClient(cfg ClientConfig, negotiator *Negotiator, metrics *infra.Metrics) *Client {
	if cfg.SandboxURL == "" {
		negotiator.WithoutAltHost()
	}
	restURL := cfg.RestURL
	if restURL == "" {
		restURL = BaseURLMainnet
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		restURL:    restURL,
		sandboxURL: cfg.SandboxURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:     NewSigner(cfg.AccessKey, cfg.SecretKey, cfg.Passphrase),
		negotiator: negotiator,
		metrics:    metrics,
		logger:     slog.Default().With("module", "bitget_client"),
	}
}

// Mode returns the environment mode requests currently go out under.
func (c *Client) Mode() domain.EnvironmentMode {
	return c.negotiator.Current()
}

// Get issues a GET. Public endpoints still pass through signing; Bitget ignores
// auth headers there and the sandbox marker must be present either way.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	var resp *Response
	err := c.negotiator.Execute(ctx, func(ctx context.Context, mode domain.EnvironmentMode) error {
		var err error
		resp, err = c.do(ctx, mode, http.MethodGet, path, query, nil)
		return err
	})
	return resp, err
}

// Post issues a signed POST with body marshalled to compact JSON.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	// Marshal once; the signature covers these exact bytes on every attempt.
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	var resp *Response
	err = c.negotiator.Execute(ctx, func(ctx context.Context, mode domain.EnvironmentMode) error {
		var err error
		resp, err = c.do(ctx, mode, http.MethodPost, path, nil, payload)
		return err
	})
	return resp, err
}

// errNoSandboxHost: alt-host mode must never fall back to the production host.
var errNoSandboxHost = errors.New("sandbox_alt_host mode requires a sandbox host")

func (c *Client) baseURL(mode domain.EnvironmentMode) (string, error) {
	if mode != domain.ModeSandboxAltHost {
		return c.restURL, nil
	}
	if c.sandboxURL == "" {
		return "", errNoSandboxHost
	}
	return c.sandboxURL, nil
}

// do handles Auth headers and envelope decoding for one attempt.
func (c *Client) do(ctx context.Context, mode domain.EnvironmentMode, method, path string, query url.Values, body []byte) (*Response, error) {
	rawQuery := ""
	if len(query) > 0 {
		rawQuery = query.Encode()
	}

	base, err := c.baseURL(mode)
	if err != nil {
		return nil, err
	}
	reqURL := base + path
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}

	// Sign last: the timestamp must be as close to the wire as possible.
	headers := c.signer.GenerateHeaders(method, path, rawQuery, string(body), mode)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	op := method + " " + path
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveExchangeLatency(path, time.Since(start))
	if err != nil {
		netErr := domain.NewNetworkError(op, err)
		netErr.Timeout = isTimeout(err)
		return nil, netErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError(op, fmt.Errorf("read body: %w", err))
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Exchange rejected request",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("code", env.Code),
			slog.String("mode", mode.String()))
		return nil, &APIError{Path: path, Status: resp.StatusCode, Code: env.Code, Msg: env.Msg, Body: string(raw)}
	}
	if decodeErr != nil {
		return nil, &APIError{Path: path, Status: resp.StatusCode, Msg: "malformed response: " + decodeErr.Error(), Body: string(raw)}
	}
	if env.Code != successCode {
		return nil, &APIError{Path: path, Status: resp.StatusCode, Code: env.Code, Msg: env.Msg, Body: string(raw)}
	}

	return &Response{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg, Data: env.Data, Body: raw}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
