package ipm

import (
	"net/url"
	"slices"
	"strings"
)

// OriginPolicy resolves command URLs against trusted origins.
type OriginPolicy struct {
	defaultOrigin *url.URL
	safeOrigins   []string
}

// NewOriginPolicy builds a policy. Relative URLs resolve against defaultOrigin;
// the result must have one of safeOrigins.
func NewOriginPolicy(defaultOrigin string, safeOrigins []string) (*OriginPolicy, error) {
	base, err := url.Parse(defaultOrigin)
	if err != nil {
		return nil, err
	}
	origins := make([]string, 0, len(safeOrigins))
	for _, o := range safeOrigins {
		origins = append(origins, strings.TrimSuffix(strings.ToLower(o), "/"))
	}
	return &OriginPolicy{defaultOrigin: base, safeOrigins: origins}, nil
}

// SafeURL returns the absolute form of raw if its origin is trusted.
func (p *OriginPolicy) SafeURL(raw string) (string, bool) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	resolved := p.defaultOrigin.ResolveReference(ref)
	if resolved.Scheme == "" || resolved.Host == "" {
		return "", false
	}
	if resolved.Path == "" {
		resolved.Path = "/"
	}
	if !slices.Contains(p.safeOrigins, origin(resolved)) {
		return "", false
	}
	return resolved.String(), true
}

// IsSafeURL is a ParamValidator for trusted URLs.
func (p *OriginPolicy) IsSafeURL(param any) bool {
	s, ok := param.(string)
	if !ok {
		return false
	}
	_, ok = p.SafeURL(s)
	return ok
}

func origin(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	scheme := strings.ToLower(u.Scheme)
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}
