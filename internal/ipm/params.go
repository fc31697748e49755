package ipm

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/ipmgw/internal/domainlist"
)

// ParamValidator reports whether a command field value is acceptable.
type ParamValidator func(param any) bool

// ParamDefinition binds a command field to its validator.
type ParamDefinition struct {
	Name     string
	Validate ParamValidator
}

// ValidateParams returns one message per failing field, in definition order.
func ValidateParams(cmd Command, defs []ParamDefinition) []string {
	var errs []string
	for _, def := range defs {
		param := cmd[def.Name]
		if def.Validate(param) {
			continue
		}
		errs = append(errs, fmt.Sprintf("Invalid value for parameter %q, got %q", def.Name, formatValue(param)))
	}
	return errs
}

// IsNumeric accepts any number that is not NaN.
func IsNumeric(param any) bool {
	_, ok := asFloat(param)
	return ok
}

// IsInRange accepts numbers within [lo, hi].
func IsInRange(lo, hi float64) ParamValidator {
	return func(param any) bool {
		n, ok := asFloat(param)
		return ok && n >= lo && n <= hi
	}
}

// IsNotEmpty accepts non-empty strings.
func IsNotEmpty(param any) bool {
	s, ok := param.(string)
	return ok && s != ""
}

// IsNotBlank accepts strings with non-whitespace content.
func IsNotBlank(param any) bool {
	s, ok := param.(string)
	return ok && strings.TrimSpace(s) != ""
}

// Optional wraps v so that an absent field passes.
func Optional(v ParamValidator) ParamValidator {
	return func(param any) bool {
		return param == nil || v(param)
	}
}

// IsValidDomainList accepts empty values and filter-style domain lists.
func IsValidDomainList(param any) bool {
	if isFalsy(param) {
		return true
	}
	s, ok := param.(string)
	if !ok {
		return false
	}
	return domainlist.IsDomainList(s)
}

// IsValidLicenseStateList accepts empty values and comma separated lists of
// known license states.
func IsValidLicenseStateList(param any) bool {
	if isFalsy(param) {
		return true
	}
	s, ok := param.(string)
	if !ok {
		return false
	}
	for _, state := range strings.Split(s, ",") {
		if !IsValidLicenseState(state) {
			return false
		}
	}
	return true
}

func isFalsy(param any) bool {
	switch v := param.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	default:
		f, ok := asFloat(param)
		return ok && f == 0
	}
}
