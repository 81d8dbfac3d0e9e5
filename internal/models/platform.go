package models

// Platform identifies a supported network operating system.
type Platform string

const (
	PlatformIOS      Platform = "ios"
	PlatformNXOS     Platform = "nxos"
	PlatformEOS      Platform = "eos"
	PlatformDellOS10 Platform = "dellos10"
	PlatformPANOS    Platform = "panos"
	PlatformFortiOS  Platform = "fortios"
)

// Valid returns true if the platform is one of the supported values.
func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformNXOS, PlatformEOS, PlatformDellOS10, PlatformPANOS, PlatformFortiOS:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (p Platform) String() string {
	return string(p)
}

// IsAPI returns true for platforms backed up over HTTPS rather than SSH.
func (p Platform) IsAPI() bool {
	return p == PlatformPANOS || p == PlatformFortiOS
}

// ShowCommand returns the CLI command that dumps the running configuration.
// Only meaningful for non-API platforms.
func (p Platform) ShowCommand() string {
	if p == PlatformDellOS10 {
		return "show running-configuration"
	}
	return "show running-config"
}
