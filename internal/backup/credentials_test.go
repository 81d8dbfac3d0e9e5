package backup

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agncf/netbackup/internal/crypto"
	"github.com/agncf/netbackup/internal/models"
)

func newTestSealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = 0x5a
	}
	sealer, err := crypto.NewSealer(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	return sealer
}

func TestResolveAssignedCredential(t *testing.T) {
	sealer := newTestSealer(t)
	sealed, err := sealer.Seal("device-pass")
	require.NoError(t, err)

	r := NewCredentialResolver(sealer, "fallback", "fallback-pass")
	user, pass, devErr := r.Resolve(models.BackupTarget{
		Hostname:       "core-1",
		CredentialUser: "netops",
		SealedPassword: sealed,
		HasCredential:  true,
	})

	require.Nil(t, devErr)
	assert.Equal(t, "netops", user)
	assert.Equal(t, "device-pass", pass)
}

func TestResolveFallsBackWhenUnassigned(t *testing.T) {
	r := NewCredentialResolver(newTestSealer(t), "fallback", "fallback-pass")
	user, pass, devErr := r.Resolve(models.BackupTarget{Hostname: "core-1"})

	require.Nil(t, devErr)
	assert.Equal(t, "fallback", user)
	assert.Equal(t, "fallback-pass", pass)
}

func TestResolveNoCredentialsAnywhere(t *testing.T) {
	r := NewCredentialResolver(newTestSealer(t), "", "")
	_, _, devErr := r.Resolve(models.BackupTarget{Hostname: "core-1"})

	require.NotNil(t, devErr)
	assert.Equal(t, KindNoCredentials, devErr.Kind)
}

func TestResolveDecryptFailureIsTerminal(t *testing.T) {
	// A corrupt sealed password must not fall back to the default login.
	r := NewCredentialResolver(newTestSealer(t), "fallback", "fallback-pass")
	_, _, devErr := r.Resolve(models.BackupTarget{
		Hostname:       "core-1",
		CredentialUser: "netops",
		SealedPassword: "not-a-valid-envelope",
		HasCredential:  true,
	})

	require.NotNil(t, devErr)
	assert.Equal(t, KindCredentialDecrypt, devErr.Kind)
	assert.NotContains(t, devErr.Message, "fallback-pass")
}
