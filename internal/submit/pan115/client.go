// Package pan115 implements the offline-download client against the 115 web
// API. Responses are classified into faults kinds so the submission pipeline
// can decide between retry, skip and abort.
package pan115

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"magharvest/internal/faults"
)

const (
	defaultBaseURL   = "https://115.com"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultTimeout   = 30 * time.Second
	referer          = "https://115.com/"

	// maxBulkItems is the endpoint's hard cap per add_task_urls call.
	maxBulkItems = 100
)

const (
	errnoAuthRequired = errCode("911")
	errnoNotLoggedIn  = errCode("40001")
	errnoBadCookie    = errCode("40002")

	// msgAuthRequired is the account-verification wall marker ("verify
	// account") in error_msg.
	msgAuthRequired = "验证账号"
	// msgLogin marks logged-out responses ("login").
	msgLogin = "登录"
)

// Config carries the cookie credential and request knobs. UID, CID and SEID
// are all required; the endpoint silently misbehaves on partial cookies, so
// missing values are rejected at construction.
type Config struct {
	UID         string
	CID         string
	SEID        string
	TargetDirID string
	UserAgent   string
	Timeout     time.Duration
	BaseURL     string
}

// Client talks to the 115 offline-download endpoints.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New validates the credential and builds a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	var missing []string
	for _, p := range []struct{ name, value string }{
		{"UID", cfg.UID},
		{"CID", cfg.CID},
		{"SEID", cfg.SEID},
	} {
		if strings.TrimSpace(p.value) == "" {
			missing = append(missing, p.name)
		}
	}
	if len(missing) > 0 {
		return nil, faults.Newf(faults.KindConfig, "cookie missing required parameters: %s", strings.Join(missing, ", "))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// SubmitBulk queues up to maxBulkItems magnets in one call. The endpoint
// takes them newline-joined in a single form field.
func (c *Client) SubmitBulk(ctx context.Context, magnets []string) error {
	if len(magnets) == 0 {
		return nil
	}
	if len(magnets) > maxBulkItems {
		return faults.Newf(faults.KindValidation, "bulk submission of %d magnets exceeds the %d item cap", len(magnets), maxBulkItems)
	}
	form := url.Values{
		"url[]":      {strings.Join(magnets, "\n")},
		"wp_path_id": {c.targetDir()},
	}
	if err := c.postTask(ctx, "add_task_urls", form); err != nil {
		return err
	}
	c.logger.Debug("bulk offline task accepted", zap.Int("magnets", len(magnets)))
	return nil
}

// SubmitOne queues a single magnet.
func (c *Client) SubmitOne(ctx context.Context, magnet string) error {
	form := url.Values{
		"url":        {magnet},
		"wp_path_id": {c.targetDir()},
	}
	return c.postTask(ctx, "add_task_url", form)
}

// CheckLogin probes the offline-space endpoint to verify the cookie session
// before a run starts submitting.
func (c *Client) CheckLogin(ctx context.Context) error {
	endpoint := c.cfg.BaseURL + "/?ct=offline&ac=space"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build login check request: %w", err)
	}
	c.decorate(req)
	body, err := c.do(req, "login check")
	if err != nil {
		return err
	}
	if !body.State {
		return faults.Tag(faults.KindSession, fmt.Errorf("cookie session rejected: %s", body.detail()))
	}
	return nil
}

func (c *Client) targetDir() string {
	if c.cfg.TargetDirID == "" {
		return "0"
	}
	return c.cfg.TargetDirID
}

func (c *Client) postTask(ctx context.Context, action string, form url.Values) error {
	endpoint := fmt.Sprintf("%s/web/lixian/?ct=lixian&ac=%s", c.cfg.BaseURL, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build offline task request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req)
	body, err := c.do(req, "offline task")
	if err != nil {
		return err
	}
	return body.fault()
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Referer", referer)
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.AddCookie(&http.Cookie{Name: "UID", Value: c.cfg.UID})
	req.AddCookie(&http.Cookie{Name: "CID", Value: c.cfg.CID})
	req.AddCookie(&http.Cookie{Name: "SEID", Value: c.cfg.SEID})
}

func (c *Client) do(req *http.Request, op string) (apiResponse, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return apiResponse{}, classifyTransport(fmt.Errorf("%s request: %w", op, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiResponse{}, faults.Newf(faults.KindTransient, "%s endpoint returned status %d", op, resp.StatusCode)
	}
	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return apiResponse{}, fmt.Errorf("decode %s response: %w", op, err)
	}
	return body, nil
}

// classifyTransport tags HTTP-level failures. Client timeouts unwrap to
// context.DeadlineExceeded; a plain cancellation stays untagged so it is
// never retried.
func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return faults.Tag(faults.KindTimeout, err)
	default:
		return faults.Tag(faults.KindTransient, err)
	}
}

// apiResponse is the common envelope on the lixian endpoints.
type apiResponse struct {
	State    bool    `json:"state"`
	Errno    errCode `json:"errno"`
	ErrorMsg string  `json:"error_msg"`
}

func (r apiResponse) detail() string {
	msg := r.ErrorMsg
	if msg == "" {
		msg = "unknown error"
	}
	if r.Errno == "" {
		return msg
	}
	return fmt.Sprintf("%s (code %s)", msg, r.Errno)
}

// fault maps a rejected response onto an error kind. Code 911 and the
// verify-account marker demand operator action on the account; logged-out
// codes and markers mean the cookies are dead.
func (r apiResponse) fault() error {
	if r.State {
		return nil
	}
	switch {
	case r.Errno == errnoAuthRequired || strings.Contains(r.ErrorMsg, msgAuthRequired):
		return faults.Newf(faults.KindAuth, "account verification required: %s", r.detail())
	case r.Errno == errnoNotLoggedIn || r.Errno == errnoBadCookie,
		strings.Contains(r.ErrorMsg, msgLogin),
		strings.Contains(strings.ToLower(r.ErrorMsg), "cookie"):
		return faults.Newf(faults.KindSession, "session rejected: %s", r.detail())
	default:
		return fmt.Errorf("offline task rejected: %s", r.detail())
	}
}

// errCode tolerates both bare-number and quoted errno values, which the
// endpoint mixes across responses.
type errCode string

func (e *errCode) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "null" {
		s = ""
	}
	*e = errCode(s)
	return nil
}
