package installer

import "fmt"

// NetworkError wraps a download failure after all retries were exhausted
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("failed to download %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ChecksumError reports a digest mismatch on a downloaded archive. The
// partial download is removed before this error is returned.
type ChecksumError struct {
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// UnpackError wraps a failure while extracting the downloaded archive
type UnpackError struct {
	Path string
	Err  error
}

func (e *UnpackError) Error() string {
	return fmt.Sprintf("failed to unpack %s: %v", e.Path, e.Err)
}

func (e *UnpackError) Unwrap() error {
	return e.Err
}

// AlreadyInstalledError is returned when the requested version is
// already present
type AlreadyInstalledError struct {
	Version string
}

func (e *AlreadyInstalledError) Error() string {
	return fmt.Sprintf("version %s is already installed", e.Version)
}

// UnknownVersionError is returned when no manifest entry resolves the
// requested version
type UnknownVersionError struct {
	Version string
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown version %s", e.Version)
}
