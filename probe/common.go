package probe

import "errors"

var (
	ErrLicenseMissing  = errors.New("license tag missing")
	ErrLicenseRejected = errors.New("license tag not accepted by the kernel")
	ErrUnknownCounter  = errors.New("unknown counter")
	ErrBadCounter      = errors.New("invalid counter declaration")
	ErrBadTrace        = errors.New("invalid trace declaration")
	ErrBadVerdict      = errors.New("invalid verdict")
	ErrBadName         = errors.New("invalid probe name")
	ErrStoreMismatch   = errors.New("counter store does not match probe object")
)
