package backup

import "fmt"

// ConfigurationError means the run could not start: backups disabled or
// destination credentials incomplete. The run row is marked failed without
// touching a single file.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

// ConnectivityError wraps a failed destination pre-flight check.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("destination unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ManifestError means the manifest could not be built or stored. The run
// is failed because its auditability is compromised, even though files may
// already have shipped.
type ManifestError struct {
	Err error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest error: %v", e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}
