package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mtlprog/agentdeploy/internal/domain"
	"github.com/sethvargo/go-retry"
)

// HandshakePolicy holds every wait of the finalize handshake.
type HandshakePolicy struct {
	ProbeTimeout       time.Duration // per health request
	ReachInterval      time.Duration
	ReachBudget        time.Duration
	ConfigureAttempts  int
	ConfigureBaseDelay time.Duration // wait before retry n is base + n*step
	ConfigureStepDelay time.Duration
	ReadyInterval      time.Duration
	ReadyBudget        time.Duration
}

// DefaultHandshakePolicy returns the production timings. Template builds can
// take several minutes before the public domain routes to the container.
func DefaultHandshakePolicy() HandshakePolicy {
	return HandshakePolicy{
		ProbeTimeout:       5 * time.Second,
		ReachInterval:      3500 * time.Millisecond,
		ReachBudget:        900 * time.Second,
		ConfigureAttempts:  5,
		ConfigureBaseDelay: 12 * time.Second,
		ConfigureStepDelay: 8 * time.Second,
		ReadyInterval:      3 * time.Second,
		ReadyBudget:        180 * time.Second,
	}
}

// reachableSetupStatuses are the /setup answers that prove the wrapper is serving.
var reachableSetupStatuses = []int{
	http.StatusOK,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusFound,
	http.StatusTemporaryRedirect,
	http.StatusPermanentRedirect,
}

var slowBootPattern = regexp.MustCompile(`(?i)gateway did not become ready in time`)

type handshake struct {
	policy HandshakePolicy
	client *http.Client
	probe  *http.Client // does not follow redirects
}

func newHandshake(policy HandshakePolicy) *handshake {
	return &handshake{
		policy: policy,
		client: &http.Client{Timeout: 2 * time.Minute},
		probe: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func baseURL(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return "https://" + endpoint
}

// run performs reachability, configuration and readiness against endpoint.
func (h *handshake) run(ctx context.Context, endpoint string, req FinalizeRequest) (string, error) {
	base := baseURL(endpoint)

	if err := h.waitReachable(ctx, base); err != nil {
		return "", err
	}
	slog.Info("workload reachable", "service_ref", req.ServiceRef, "endpoint", base)

	output, err := h.configure(ctx, base, req)
	if err != nil {
		return "", err
	}

	var logs strings.Builder
	fmt.Fprintf(&logs, "Setup finalized for %s.\n", base)

	if err := h.waitConfigured(ctx, base); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("workload did not report configured in time, continuing",
			"service_ref", req.ServiceRef,
			"budget", h.policy.ReadyBudget,
			"error", err,
		)
		fmt.Fprintf(&logs, "Workload did not report configured within %s.\n", h.policy.ReadyBudget)
	}

	if output != "" {
		logs.WriteString("\n--- setup output ---\n")
		logs.WriteString(output)
	}
	return logs.String(), nil
}

func (h *handshake) waitReachable(ctx context.Context, base string) error {
	var lastErr error
	backoff := retry.WithMaxDuration(h.policy.ReachBudget, retry.NewConstant(h.policy.ReachInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := h.probeOnce(ctx, base); err != nil {
			lastErr = err
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: workload at %s not reachable within %s, last error: %v",
		domain.ErrHandshakeTimeout, base, h.policy.ReachBudget, lastErr)
}

func (h *handshake) probeOnce(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, h.policy.ProbeTimeout)
	defer cancel()

	status, err := h.get(ctx, h.client, base+"/setup/healthz")
	if err != nil {
		return fmt.Errorf("healthz: %w", err)
	}
	if status >= 200 && status <= 299 {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("healthz HTTP %d", status)
	}

	// healthz can 404 while the domain propagates; any auth or redirect answer on /setup means the wrapper is up.
	status, err = h.get(ctx, h.probe, base+"/setup")
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if slices.Contains(reachableSetupStatuses, status) {
		return nil
	}
	return fmt.Errorf("/setup HTTP %d", status)
}

func (h *handshake) get(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

type setupPayload struct {
	Flow              string   `json:"flow"`
	Model             string   `json:"model,omitempty"`
	AuthChoice        string   `json:"authChoice"`
	AuthSecret        string   `json:"authSecret"`
	TelegramToken     string   `json:"telegramToken"`
	TelegramDMPolicy  string   `json:"telegramDmPolicy"`
	TelegramAllowFrom []string `json:"telegramAllowFrom"`
}

func (h *handshake) configure(ctx context.Context, base string, req FinalizeRequest) (string, error) {
	payload, err := json.Marshal(setupPayload{
		Flow:              "quickstart",
		Model:             req.Model,
		AuthChoice:        authChoice(req.Provider),
		AuthSecret:        req.APIKey,
		TelegramToken:     req.ChannelToken,
		TelegramDMPolicy:  "allowlist",
		TelegramAllowFrom: []string{req.ChannelUserID},
	})
	if err != nil {
		return "", fmt.Errorf("marshal setup payload: %w", err)
	}

	attempt := 0
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		if attempt >= h.policy.ConfigureAttempts {
			return 0, true
		}
		delay := h.policy.ConfigureBaseDelay + time.Duration(attempt)*h.policy.ConfigureStepDelay
		slog.Warn("workload gateway still booting, retrying setup",
			"service_ref", req.ServiceRef,
			"next_attempt", attempt+1,
			"delay", delay,
		)
		return delay, false
	})

	var (
		output   string
		slowBoot bool
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := h.runSetup(ctx, base, req.SetupPassword, payload)
		if err != nil {
			slowBoot = slowBootPattern.MatchString(err.Error())
			if slowBoot {
				return retry.RetryableError(err)
			}
			return err
		}
		output = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if slowBoot {
			return "", fmt.Errorf("%w: workload still booting after %d setup attempts: %w",
				domain.ErrHandshakeTimeout, attempt, err)
		}
		return "", fmt.Errorf("%w: workload setup failed: %w", domain.ErrProvisioning, err)
	}
	return output, nil
}

// runSetup posts the setup flow once and returns its output.
func (h *handshake) runSetup(ctx context.Context, base, password string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/setup/api/run", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("", password)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed map[string]any
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out, ok := parsed["output"]; ok && out != nil {
			return fmt.Sprint(out), nil
		}
		return "", nil
	}
	return "", errors.New(setupErrorDetail(resp.StatusCode, body, parsed))
}

// setupErrorDetail prefers the wrapper's output, then its error, then the raw body.
func setupErrorDetail(status int, body []byte, parsed map[string]any) string {
	if parsed != nil {
		for _, key := range []string{"output", "error"} {
			if v, ok := parsed[key]; ok && v != nil {
				return fmt.Sprint(v)
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return strconv.Itoa(status)
}

var errNotConfigured = errors.New("workload reports configured=false")

func (h *handshake) waitConfigured(ctx context.Context, base string) error {
	backoff := retry.WithMaxDuration(h.policy.ReadyBudget, retry.NewConstant(h.policy.ReadyInterval))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		configured, err := h.configuredOnce(ctx, base)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !configured {
			return retry.RetryableError(errNotConfigured)
		}
		return nil
	})
}

// configuredOnce reads the health document. A body without a boolean
// "configured" field counts as configured.
func (h *handshake) configuredOnce(ctx context.Context, base string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, h.policy.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/setup/healthz", nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("healthz HTTP %d", resp.StatusCode)
	}

	var health struct {
		Configured *bool `json:"configured"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || health.Configured == nil {
		return true, nil
	}
	return *health.Configured, nil
}
