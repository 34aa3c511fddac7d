package license

import (
	"errors"
	"fmt"
)

var (
	ErrLicenseAlreadyActive = errors.New("license already active")
	ErrLicenseNotFound      = errors.New("license not found")
	ErrInvalidDuration      = errors.New("invalid license duration")
	ErrUnknownResource      = errors.New("resource not for sale")
	ErrInvalidLicense       = errors.New("invalid license record")
)

func errInvalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidLicense, fmt.Sprintf(format, args...))
}
