package backup

import "fmt"

// ErrorKind classifies why a device backup failed. Kinds are stable strings
// stored on results and exposed through the API.
type ErrorKind string

const (
	KindNoCredentials         ErrorKind = "no_credentials"
	KindCredentialDecrypt     ErrorKind = "credential_decrypt_error"
	KindAuthRejected          ErrorKind = "auth_rejected"
	KindUnreachable           ErrorKind = "unreachable"
	KindTimeout               ErrorKind = "timeout"
	KindTransport             ErrorKind = "transport"
	KindProtocol              ErrorKind = "protocol"
	KindScrub                 ErrorKind = "scrub_error"
	KindRepositoryUnavailable ErrorKind = "repository_unavailable"
	KindFatal                 ErrorKind = "fatal"
)

// DeviceError is the error type for a failed device backup. Message must
// never contain credential material.
type DeviceError struct {
	Kind    ErrorKind
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newDeviceError(kind ErrorKind, format string, args ...any) *DeviceError {
	return &DeviceError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
