// Package lmsapi is the client of the remote LMS REST API. It owns no state: every durable record
// (quizzes, attempts, enrollments, completions) lives behind it.
package lmsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/victornm/elms/internal/errors"
	"github.com/victornm/elms/internal/telemetry"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

type Client struct {
	base    *url.URL
	hc      *http.Client
	limiter *rate.Limiter
}

func NewClient(c Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(c.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("lmsapi: parse base url: %w", err)
	}

	hc := c.HTTPClient
	if hc == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	limit, burst := rate.Inf, c.Burst
	if c.RatePerSecond > 0 {
		limit = rate.Limit(c.RatePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		base:    base,
		hc:      hc,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

type errorBody struct {
	Message string `json:"message"`
}

// resourcePath fills format with ids, each escaped as a single path segment. Dot segments are
// refused since joining the URL would resolve them to another resource.
func resourcePath(format string, ids ...string) (string, error) {
	segs := make([]any, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == "." || id == ".." {
			return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid identifier: %q", id))
		}
		segs = append(segs, url.PathEscape(id))
	}

	return fmt.Sprintf(format, segs...), nil
}

// do sends a JSON request and decodes a JSON response into out when out is not nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, user string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("%s: rate limited", op),
			errors.WithCause(err))
	}

	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderUserID, user)
	req.Header.Set(HeaderRequestID, uuid.NewString())

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		telemetry.ObserveLMSRequest(op, "error", time.Since(start))
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("%s: LMS unreachable", op),
			errors.WithCause(err))
	}
	defer resp.Body.Close()
	telemetry.ObserveLMSRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(ctx, op, resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("%s: malformed LMS response", op),
			errors.WithCause(err))
	}

	return nil
}

func (c *Client) decodeError(ctx context.Context, op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	msg := ""
	if json.Unmarshal(b, &eb) == nil {
		msg = eb.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	slog.WarnContext(ctx, "lmsapi: request rejected",
		"op", op,
		"status", resp.StatusCode,
		"message", msg,
	)

	return errors.FromHTTPStatus(resp.StatusCode,
		errors.WithMessagef("%s", msg),
		errors.WithCause(fmt.Errorf("%s: status %d", op, resp.StatusCode)))
}
