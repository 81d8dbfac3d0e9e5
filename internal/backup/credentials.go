package backup

import (
	"github.com/agncf/netbackup/internal/crypto"
	"github.com/agncf/netbackup/internal/models"
)

// CredentialResolver turns a backup target into a usable login. Devices
// without an assigned credential set fall back to the site-wide default
// login when one is configured.
type CredentialResolver struct {
	sealer       *crypto.Sealer
	fallbackUser string
	fallbackPass string
}

func NewCredentialResolver(sealer *crypto.Sealer, fallbackUser, fallbackPass string) *CredentialResolver {
	return &CredentialResolver{
		sealer:       sealer,
		fallbackUser: fallbackUser,
		fallbackPass: fallbackPass,
	}
}

// Resolve returns the username and plaintext password for target.
//
// A decrypt failure on an assigned credential is terminal: the fallback is
// never consulted, because silently logging in with a different identity
// than the operator assigned would mask the corruption.
func (r *CredentialResolver) Resolve(target models.BackupTarget) (string, string, *DeviceError) {
	if target.HasCredential {
		password, err := r.sealer.Unseal(target.SealedPassword)
		if err != nil {
			return "", "", newDeviceError(KindCredentialDecrypt,
				"cannot decrypt credential for device %s", target.Hostname)
		}
		return target.CredentialUser, password, nil
	}

	if r.fallbackUser != "" && r.fallbackPass != "" {
		return r.fallbackUser, r.fallbackPass, nil
	}

	return "", "", newDeviceError(KindNoCredentials,
		"device %s has no credential set and no fallback is configured", target.Hostname)
}
