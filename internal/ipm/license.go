package ipm

import "strings"

// LicenseState is the premium license state a command can target.
type LicenseState string

const (
	LicenseActive   LicenseState = "premium"
	LicenseInactive LicenseState = "free"
)

// DefaultLicenseState is targeted when a command names none.
const DefaultLicenseState = LicenseInactive

func IsValidLicenseState(s string) bool {
	return s == string(LicenseActive) || s == string(LicenseInactive)
}

// LicenseStateMatches reports whether the comma separated list targets the
// current license state. An empty list matches every state.
func LicenseStateMatches(list string, premiumActive bool) bool {
	if list == "" {
		return true
	}
	for _, state := range strings.Split(list, ",") {
		switch LicenseState(state) {
		case LicenseInactive:
			if !premiumActive {
				return true
			}
		case LicenseActive:
			if premiumActive {
				return true
			}
		}
	}
	return false
}
