package backup

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/agncf/netbackup/internal/models"
)

// outcome is what a pool worker produces for one target: the raw config on
// success, a classified error on failure, or a skip when the job was
// cancelled before the device was attempted.
type outcome struct {
	target   models.BackupTarget
	raw      string
	err      *DeviceError
	skipped  bool
	duration time.Duration
}

// CLIPool retrieves configurations from CLI-managed devices over SSH with a
// fixed-size worker pool. Targets are consumed in submission order.
type CLIPool struct {
	workers  int
	timeout  time.Duration
	resolver *CredentialResolver
	logger   *slog.Logger
}

func NewCLIPool(workers int, timeout time.Duration, resolver *CredentialResolver, logger *slog.Logger) *CLIPool {
	return &CLIPool{
		workers:  workers,
		timeout:  timeout,
		resolver: resolver,
		logger:   logger,
	}
}

// Run fetches every target and sends one outcome per target on out. It
// returns when all targets are accounted for. Cancelling ctx turns targets
// that have not been attempted yet into skips.
func (p *CLIPool) Run(ctx context.Context, targets []models.BackupTarget, out chan<- outcome) {
	queue := make(chan models.BackupTarget)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range queue {
				out <- p.fetch(ctx, target)
			}
		}()
	}

	for _, target := range targets {
		queue <- target
	}
	close(queue)
	wg.Wait()
}

func (p *CLIPool) fetch(ctx context.Context, target models.BackupTarget) outcome {
	if ctx.Err() != nil {
		return outcome{target: target, skipped: true}
	}

	start := time.Now()
	raw, err := p.fetchConfig(ctx, target)
	result := outcome{target: target, raw: raw, err: err, duration: time.Since(start)}

	if err != nil {
		p.logger.Warn("cli backup failed",
			"hostname", target.Hostname,
			"platform", string(target.Platform),
			"kind", string(err.Kind),
			"error", err.Message)
	} else {
		p.logger.Debug("cli backup fetched",
			"hostname", target.Hostname,
			"bytes", len(raw),
			"duration_ms", result.duration.Milliseconds())
	}
	return result
}

func (p *CLIPool) fetchConfig(ctx context.Context, target models.BackupTarget) (string, *DeviceError) {
	user, password, devErr := p.resolver.Resolve(target)
	if devErr != nil {
		return "", devErr
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	addr := target.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", classifyDialError(ctx, target, err)
	}
	defer conn.Close()

	// The context deadline bounds the handshake and the command together.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// The SSH layer has no context support past the dial, so cancellation
	// closes the raw connection out from under it.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.timeout,
	})
	if err != nil {
		return "", classifyHandshakeError(ctx, target, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", newDeviceError(KindTransport, "open session on %s: %v", target.Hostname, err)
	}
	defer session.Close()

	output, err := session.Output(target.Platform.ShowCommand())
	if err != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return "", newDeviceError(KindTimeout, "command timed out on %s", target.Hostname)
		case context.Canceled:
			return "", newDeviceError(KindTimeout, "session on %s closed by job cancellation", target.Hostname)
		}
		return "", newDeviceError(KindProtocol, "run %q on %s: %v",
			target.Platform.ShowCommand(), target.Hostname, err)
	}

	raw := string(output)
	if strings.TrimSpace(raw) == "" {
		return "", newDeviceError(KindProtocol, "device %s returned an empty configuration", target.Hostname)
	}
	return raw, nil
}

func classifyDialError(ctx context.Context, target models.BackupTarget, err error) *DeviceError {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return newDeviceError(KindTimeout, "connect to %s timed out", target.Hostname)
	}
	return newDeviceError(KindUnreachable, "connect to %s: %v", target.Hostname, err)
}

func classifyHandshakeError(ctx context.Context, target models.BackupTarget, err error) *DeviceError {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return newDeviceError(KindTimeout, "ssh handshake with %s timed out", target.Hostname)
	case context.Canceled:
		return newDeviceError(KindTimeout, "handshake with %s closed by job cancellation", target.Hostname)
	}
	if strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "permission denied") {
		return newDeviceError(KindAuthRejected, "authentication rejected by %s", target.Hostname)
	}
	return newDeviceError(KindTransport, "ssh handshake with %s: %v", target.Hostname, err)
}
