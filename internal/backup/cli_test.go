package backup

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/agncf/netbackup/internal/models"
)

// startSSHServer runs a one-command SSH server that answers every exec
// request with response. It returns the listen address.
func startSSHServer(t *testing.T, user, password, response string) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, &ssh.ServerAuthError{}
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, config, response)
		}
	}()
	return listener.Addr().String()
}

func serveSSHConn(conn net.Conn, config *ssh.ServerConfig, response string) {
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer channel.Close()
			for req := range requests {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)
				channel.Write([]byte(response))
				channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				return
			}
		}()
	}
}

// startStallingSSHServer accepts the session and the exec request but never
// answers, holding the channel open until the client side goes away.
func startStallingSSHServer(t *testing.T, user, password string) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, &ssh.ServerAuthError{}
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				serverConn, chans, reqs, err := ssh.NewServerConn(conn, config)
				if err != nil {
					return
				}
				defer serverConn.Close()
				go ssh.DiscardRequests(reqs)
				for newChan := range chans {
					channel, requests, err := newChan.Accept()
					if err != nil {
						continue
					}
					defer channel.Close()
					go func() {
						for req := range requests {
							req.Reply(true, nil)
						}
					}()
				}
			}(conn)
		}
	}()
	return listener.Addr().String()
}

func cliTarget(hostname, addr string) models.BackupTarget {
	return models.BackupTarget{
		Hostname:       hostname,
		Address:        addr,
		Platform:       models.PlatformIOS,
		SiteCode:       "nyc01",
		RepoName:       "site-nyc01",
		CredentialUser: "netops",
		HasCredential:  false,
	}
}

func runCLIPool(t *testing.T, pool *CLIPool, ctx context.Context, targets ...models.BackupTarget) []outcome {
	t.Helper()
	out := make(chan outcome, len(targets))
	pool.Run(ctx, targets, out)
	close(out)

	var results []outcome
	for result := range out {
		results = append(results, result)
	}
	require.Len(t, results, len(targets), "one outcome per target")
	return results
}

func TestCLIPoolFetchesConfig(t *testing.T) {
	const config = "hostname core-1\ninterface Ethernet0\n"
	addr := startSSHServer(t, "netops", "pass123", config)

	pool := NewCLIPool(2, 5*time.Second,
		NewCredentialResolver(newTestSealer(t), "netops", "pass123"), discardLogger())
	results := runCLIPool(t, pool, context.Background(), cliTarget("core-1", addr))

	require.Nil(t, results[0].err)
	assert.Equal(t, config, results[0].raw)
	assert.False(t, results[0].skipped)
}

func TestCLIPoolAuthRejected(t *testing.T) {
	addr := startSSHServer(t, "netops", "correct", "hostname x\n")

	pool := NewCLIPool(1, 5*time.Second,
		NewCredentialResolver(newTestSealer(t), "netops", "wrong"), discardLogger())
	results := runCLIPool(t, pool, context.Background(), cliTarget("core-1", addr))

	require.NotNil(t, results[0].err)
	assert.Equal(t, KindAuthRejected, results[0].err.Kind)
}

func TestCLIPoolUnreachable(t *testing.T) {
	// Grab a port and close it so nothing is listening.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	pool := NewCLIPool(1, 2*time.Second,
		NewCredentialResolver(newTestSealer(t), "netops", "pass"), discardLogger())
	results := runCLIPool(t, pool, context.Background(), cliTarget("core-1", addr))

	require.NotNil(t, results[0].err)
	assert.Equal(t, KindUnreachable, results[0].err.Kind)
}

func TestCLIPoolHandshakeTimeout(t *testing.T) {
	// A TCP listener that never speaks SSH stalls the handshake until the
	// per-device deadline fires.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	pool := NewCLIPool(1, 300*time.Millisecond,
		NewCredentialResolver(newTestSealer(t), "netops", "pass"), discardLogger())
	results := runCLIPool(t, pool, context.Background(), cliTarget("core-1", listener.Addr().String()))

	require.NotNil(t, results[0].err)
	assert.Equal(t, KindTimeout, results[0].err.Kind)
}

func TestCLIPoolNoCredentials(t *testing.T) {
	pool := NewCLIPool(1, time.Second,
		NewCredentialResolver(newTestSealer(t), "", ""), discardLogger())
	results := runCLIPool(t, pool, context.Background(), cliTarget("core-1", "192.0.2.1:22"))

	require.NotNil(t, results[0].err)
	assert.Equal(t, KindNoCredentials, results[0].err.Kind)
}

func TestCLIPoolCancelledTargetsAreSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewCLIPool(2, time.Second,
		NewCredentialResolver(newTestSealer(t), "netops", "pass"), discardLogger())
	results := runCLIPool(t, pool, ctx,
		cliTarget("core-1", "192.0.2.1:22"), cliTarget("core-2", "192.0.2.2:22"))

	for _, result := range results {
		assert.True(t, result.skipped)
		assert.Nil(t, result.err)
	}
}

func TestCLIPoolCancelClosesInFlightSession(t *testing.T) {
	addr := startStallingSSHServer(t, "netops", "pass")

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(200*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	// The per-device timeout is far longer than the cancellation delay, so
	// a prompt return proves the session was torn down, not timed out.
	pool := NewCLIPool(1, 30*time.Second,
		NewCredentialResolver(newTestSealer(t), "netops", "pass"), discardLogger())

	start := time.Now()
	results := runCLIPool(t, pool, ctx, cliTarget("core-1", addr))

	require.NotNil(t, results[0].err)
	assert.Equal(t, KindTimeout, results[0].err.Kind)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCLIPoolManyTargetsBoundedWorkers(t *testing.T) {
	const config = "hostname many\n"
	addr := startSSHServer(t, "netops", "pass", config)

	targets := make([]models.BackupTarget, 8)
	for i := range targets {
		targets[i] = cliTarget("dev", addr)
	}

	pool := NewCLIPool(3, 5*time.Second,
		NewCredentialResolver(newTestSealer(t), "netops", "pass"), discardLogger())
	results := runCLIPool(t, pool, context.Background(), targets...)

	for _, result := range results {
		require.Nil(t, result.err)
		assert.Equal(t, config, result.raw)
	}
}
