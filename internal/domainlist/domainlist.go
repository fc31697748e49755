// Package domainlist parses and matches filter-style domain lists such as
// "example.com,~mail.example.com".
package domainlist

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

const separator = ","

var (
	ipv4Pattern   = regexp.MustCompile(`^(((2[0-4]|1[0-9]|[1-9])?[0-9]|25[0-5])\.){4}$`)
	looksLikeIPv4 = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)
	labelPattern  = regexp.MustCompile(`(?i)^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	allDigits     = regexp.MustCompile(`^\d*$`)
)

// List maps a domain to whether it is included. The empty key holds the
// verdict for domains not listed: true when the list only excludes.
type List map[string]bool

// Parse splits source into a List. It returns nil for a list with no entries.
func Parse(source string) List {
	if source == "" {
		return nil
	}
	if !strings.HasPrefix(source, "~") && !strings.Contains(source, separator) {
		return List{"": false, source: true}
	}

	var domains List
	hasIncludes := false
	for _, domain := range strings.Split(source, separator) {
		if domain == "" {
			continue
		}
		include := true
		if strings.HasPrefix(domain, "~") {
			include = false
			domain = domain[1:]
		} else {
			hasIncludes = true
		}
		if domains == nil {
			domains = List{}
		}
		domains[domain] = include
	}
	if domains != nil {
		domains[""] = !hasIncludes
	}
	return domains
}

// IsDomainList reports whether every entry of list is a valid hostname.
// An empty list is valid.
func IsDomainList(list string) bool {
	for domain := range Parse(list) {
		if domain != "" && !IsValidHostname(domain) {
			return false
		}
	}
	return true
}

// IsValidHostname accepts normalized IPv4 addresses, bracketed IPv6
// addresses and LDH hostnames whose top-level label is not numeric.
// Internationalized names must already be punycode encoded.
func IsValidHostname(hostname string) bool {
	if ipv4Pattern.MatchString(hostname + ".") {
		return true
	}
	if isBracketed(hostname) {
		return true
	}

	hostname = strings.TrimSuffix(hostname, ".")
	if len(hostname) > 253 {
		return false
	}

	labels := strings.Split(hostname, ".")
	for _, label := range labels {
		if !labelPattern.MatchString(label) {
			return false
		}
	}
	return !allDigits.MatchString(labels[len(labels)-1])
}

// IsActiveOnDomain reports whether rawURL is targeted by domainList.
// An empty list matches everywhere.
func IsActiveOnDomain(rawURL, domainList string) bool {
	domains := Parse(domainList)
	if domains == nil {
		return true
	}

	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = NormalizeHost(u.Hostname())
	}
	if host == "" {
		return domains[""]
	}

	for _, suffix := range Suffixes(host) {
		if include, ok := domains[suffix]; ok {
			return include
		}
	}
	return domains[""]
}

// Suffixes returns domain and each of its parent domains, most specific
// first. IP addresses are returned unchanged.
func Suffixes(domain string) []string {
	if isIPAddress(domain) {
		return []string{domain}
	}
	domain = strings.TrimSuffix(domain, ".")

	var out []string
	for domain != "" {
		out = append(out, domain)
		_, rest, found := strings.Cut(domain, ".")
		if !found {
			break
		}
		domain = rest
	}
	return out
}

// NormalizeHost lowercases host, drops a trailing dot and IDNA-encodes it.
func NormalizeHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || isIPAddress(host) {
		return host
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}

func isBracketed(hostname string) bool {
	return len(hostname) >= 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']'
}

func isIPAddress(hostname string) bool {
	if isBracketed(hostname) {
		return true
	}
	return looksLikeIPv4.MatchString(hostname)
}
