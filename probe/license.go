package probe

import (
	"fmt"
	"strings"
)

// License is the tag the probe is built with unless an Object overrides it.
const License = "Dual BSD/GPL"

// gplCompatible mirrors the kernel's license_is_gpl_compatible(). The probe
// calls bpf_trace_printk, which is GPL-only, so anything else is refused at
// load time.
var gplCompatible = map[string]struct{}{
	"GPL":                       {},
	"GPL v2":                    {},
	"GPL and additional rights": {},
	"Dual BSD/GPL":              {},
	"Dual MIT/GPL":              {},
	"Dual MPL/GPL":              {},
}

// ValidateLicense returns nil when license would be accepted by the loader.
func ValidateLicense(license string) error {
	if license == "" {
		return ErrLicenseMissing
	}

	if strings.ContainsRune(license, 0) {
		return fmt.Errorf("%w: %q contains a NUL byte", ErrLicenseRejected, license)
	}

	if _, ok := gplCompatible[license]; !ok {
		return fmt.Errorf("%w: %q", ErrLicenseRejected, license)
	}

	return nil
}
