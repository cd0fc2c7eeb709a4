// Package notify pings an HTTP monitoring endpoint (healthchecks.io style)
// around each guarded run: <url>/start when the task launches,
// <url>/<exit code> when it finishes and <url>/fail when the lock could not
// be taken. Skipped cycles do not ping, so a check that stops receiving
// pings means no instance has been running.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"tools.zach/dev/cronguard/internal/guard"
)

// maxBodyBytes caps the response body read before it is discarded.
const maxBodyBytes = 64 << 10

// Options configures a [Pinger].
type Options struct {
	// URL is the check's base ping URL.
	URL string
	// OnStart enables the /start ping.
	OnStart bool
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries is the number of retries after a failed attempt.
	Retries int
	// Logger receives retry diagnostics. Nil silences them.
	Logger *slog.Logger
	// UserAgent is sent with each ping.
	UserAgent string
}

// Pinger is a [guard.Observer] that reports runs to a monitoring endpoint.
type Pinger struct {
	base      string
	onStart   bool
	userAgent string
	client    *retryablehttp.Client
}

// New returns a Pinger for opts.
func New(opts Options) *Pinger {
	client := retryablehttp.NewClient()
	client.RetryMax = opts.Retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = opts.Timeout
	if opts.Logger != nil {
		client.Logger = opts.Logger
	} else {
		client.Logger = nil
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "cronguard"
	}
	return &Pinger{
		base:      strings.TrimRight(opts.URL, "/"),
		onStart:   opts.OnStart,
		userAgent: ua,
		client:    client,
	}
}

func (p *Pinger) String() string { return "notify" }

// OnStart pings <url>/start when enabled.
func (p *Pinger) OnStart(ctx context.Context, ev guard.StartEvent) error {
	if !p.onStart {
		return nil
	}
	body := fmt.Sprintf("run_id=%s pid=%d command=%q\n", ev.RunID, ev.PID, ev.Command)
	return p.ping(ctx, ev.RunID, "start", body)
}

// OnFinish pings the exit code, or /fail for lock failures. Busy and timed
// out cycles are not reported.
func (p *Pinger) OnFinish(ctx context.Context, res guard.Result) error {
	var suffix string
	switch {
	case res.Outcome.Skipped():
		return nil
	case res.Outcome == guard.OutcomeLockFailed:
		suffix = "fail"
	default:
		suffix = strconv.Itoa(res.ExitCode)
	}

	body := fmt.Sprintf("run_id=%s outcome=%s exit_code=%d duration=%s\n",
		res.RunID, res.Outcome, res.ExitCode, res.Duration().Round(time.Millisecond))
	if res.Err != nil {
		body += "error=" + res.Err.Error() + "\n"
	}
	return p.ping(ctx, res.RunID, suffix, body)
}

func (p *Pinger) ping(ctx context.Context, runID, suffix, body string) error {
	url := p.base + "/" + suffix
	if runID != "" {
		url += "?rid=" + runID
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", p.base+"/"+suffix, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s: status %d", p.base+"/"+suffix, resp.StatusCode)
	}
	return nil
}
