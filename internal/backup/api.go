package backup

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agncf/netbackup/internal/models"
)

// APIPool retrieves configurations from API-managed devices (firewalls and
// similar) over HTTPS. Concurrency is bounded by a weighted semaphore
// rather than fixed workers, since API fetches are short-lived requests.
type APIPool struct {
	sem       *semaphore.Weighted
	timeout   time.Duration
	resolver  *CredentialResolver
	logger    *slog.Logger
	transport *http.Transport
}

func NewAPIPool(limit int64, timeout time.Duration, tlsVerify bool, resolver *CredentialResolver, logger *slog.Logger) *APIPool {
	return &APIPool{
		sem:      semaphore.NewWeighted(limit),
		timeout:  timeout,
		resolver: resolver,
		logger:   logger,
		transport: &http.Transport{
			// Device management planes routinely run self-signed certs.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !tlsVerify},
		},
	}
}

// Run fetches every target and sends one outcome per target on out. It
// returns when all targets are accounted for.
func (p *APIPool) Run(ctx context.Context, targets []models.BackupTarget, out chan<- outcome) {
	var wg sync.WaitGroup
	for _, target := range targets {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- outcome{target: target, skipped: true}
			continue
		}
		wg.Add(1)
		go func(target models.BackupTarget) {
			defer wg.Done()
			defer p.sem.Release(1)
			out <- p.fetch(ctx, target)
		}(target)
	}
	wg.Wait()
}

func (p *APIPool) fetch(ctx context.Context, target models.BackupTarget) outcome {
	if ctx.Err() != nil {
		return outcome{target: target, skipped: true}
	}

	start := time.Now()
	raw, err := p.fetchConfig(ctx, target)
	result := outcome{target: target, raw: raw, err: err, duration: time.Since(start)}

	if err != nil {
		p.logger.Warn("api backup failed",
			"hostname", target.Hostname,
			"platform", string(target.Platform),
			"kind", string(err.Kind),
			"error", err.Message)
	} else {
		p.logger.Debug("api backup fetched",
			"hostname", target.Hostname,
			"bytes", len(raw),
			"duration_ms", result.duration.Milliseconds())
	}
	return result
}

func (p *APIPool) fetchConfig(ctx context.Context, target models.BackupTarget) (string, *DeviceError) {
	user, password, devErr := p.resolver.Resolve(target)
	if devErr != nil {
		return "", devErr
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client := &http.Client{Transport: p.transport, Timeout: p.timeout}

	var raw string
	switch target.Platform {
	case models.PlatformPANOS:
		raw, devErr = p.fetchPANOS(ctx, client, target, user, password)
	case models.PlatformFortiOS:
		raw, devErr = p.fetchFortiOS(ctx, client, target, user, password)
	default:
		return "", newDeviceError(KindFatal, "platform %s is not API-managed", target.Platform)
	}
	if devErr != nil {
		return "", devErr
	}
	if strings.TrimSpace(raw) == "" {
		return "", newDeviceError(KindProtocol, "device %s returned an empty configuration", target.Hostname)
	}
	return raw, nil
}

type panosKeygenResponse struct {
	Status string `xml:"status,attr"`
	Result struct {
		Key string `xml:"key"`
	} `xml:"result"`
}

// fetchPANOS obtains a short-lived API key and exports the candidate
// configuration with it. The login never rides in the export request.
func (p *APIPool) fetchPANOS(ctx context.Context, client *http.Client, target models.BackupTarget, user, password string) (string, *DeviceError) {
	base := "https://" + target.Address

	keygenURL := base + "/api/?type=keygen&user=" + url.QueryEscape(user) +
		"&password=" + url.QueryEscape(password)
	status, body, devErr := p.get(ctx, client, target, keygenURL)
	if devErr != nil {
		return "", devErr
	}
	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		return "", newDeviceError(KindAuthRejected, "authentication rejected by %s", target.Hostname)
	}
	if status != http.StatusOK {
		return "", newDeviceError(KindProtocol, "keygen on %s returned HTTP %d", target.Hostname, status)
	}

	var keygen panosKeygenResponse
	if err := xml.Unmarshal(body, &keygen); err != nil {
		return "", newDeviceError(KindProtocol, "parse keygen response from %s: %v", target.Hostname, err)
	}
	if keygen.Status != "success" || keygen.Result.Key == "" {
		return "", newDeviceError(KindAuthRejected, "authentication rejected by %s", target.Hostname)
	}

	exportURL := base + "/api/?type=export&category=configuration&key=" +
		url.QueryEscape(keygen.Result.Key)
	status, body, devErr = p.get(ctx, client, target, exportURL)
	if devErr != nil {
		return "", devErr
	}
	if status != http.StatusOK {
		return "", newDeviceError(KindProtocol, "config export on %s returned HTTP %d", target.Hostname, status)
	}
	return string(body), nil
}

type fortiosLoginResponse struct {
	Token string `json:"token"`
}

type fortiosBackupResponse struct {
	Config string `json:"config"`
}

// fetchFortiOS logs in for a bearer token and downloads the full backup.
func (p *APIPool) fetchFortiOS(ctx context.Context, client *http.Client, target models.BackupTarget, user, password string) (string, *DeviceError) {
	base := "https://" + target.Address

	loginBody, err := json.Marshal(map[string]string{
		"username": user,
		"password": password,
	})
	if err != nil {
		return "", newDeviceError(KindFatal, "encode login for %s: %v", target.Hostname, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/v2/auth/login", bytes.NewReader(loginBody))
	if err != nil {
		return "", newDeviceError(KindFatal, "build login request for %s: %v", target.Hostname, err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, devErr := p.doRequest(ctx, client, target, req)
	if devErr != nil {
		return "", devErr
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", newDeviceError(KindAuthRejected, "authentication rejected by %s", target.Hostname)
	}
	if status != http.StatusOK {
		return "", newDeviceError(KindProtocol, "login on %s returned HTTP %d", target.Hostname, status)
	}

	var login fortiosLoginResponse
	if err := json.Unmarshal(body, &login); err != nil || login.Token == "" {
		return "", newDeviceError(KindProtocol, "no session token in login response from %s", target.Hostname)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet,
		base+"/api/v2/monitor/system/config/backup?scope=global", nil)
	if err != nil {
		return "", newDeviceError(KindFatal, "build backup request for %s: %v", target.Hostname, err)
	}
	req.Header.Set("Authorization", "Bearer "+login.Token)

	status, body, devErr = p.doRequest(ctx, client, target, req)
	if devErr != nil {
		return "", devErr
	}
	if status != http.StatusOK {
		return "", newDeviceError(KindProtocol, "config backup on %s returned HTTP %d", target.Hostname, status)
	}

	// Some firmware wraps the config in JSON, some streams it raw.
	var wrapped fortiosBackupResponse
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Config != "" {
		return wrapped.Config, nil
	}
	return string(body), nil
}

func (p *APIPool) get(ctx context.Context, client *http.Client, target models.BackupTarget, rawURL string) (int, []byte, *DeviceError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, newDeviceError(KindFatal, "build request for %s: %v", target.Hostname, err)
	}
	return p.doRequest(ctx, client, target, req)
}

func (p *APIPool) doRequest(ctx context.Context, client *http.Client, target models.BackupTarget, req *http.Request) (int, []byte, *DeviceError) {
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, newDeviceError(KindTimeout, "request to %s timed out", target.Hostname)
		}
		// url.Error embeds the full request URL, which for keygen carries
		// the login; report only the underlying cause.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return 0, nil, newDeviceError(KindUnreachable, "connect to %s: %v", target.Hostname, urlErr.Err)
		}
		return 0, nil, newDeviceError(KindUnreachable, "connect to %s: %v", target.Hostname, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, newDeviceError(KindTransport, "read response from %s: %v", target.Hostname, err)
	}
	return resp.StatusCode, body, nil
}
