// Package doctor validates ipmgw configuration beyond what loading enforces.
package doctor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/ipmgw/internal/auth"
	"github.com/mattjoyce/ipmgw/internal/config"
	"github.com/mattjoyce/ipmgw/internal/dialog"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateOrigins(r)
	d.validateTimings(r)
	d.warnStateBackend(r)
	d.warnPushSecret(r)
	d.warnDeprecatedSyntax(r)
	d.warnSuspiciousPingInterval(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}

// validateTokenScopes checks every scope against the known resources and
// rejects tokens that share a value.
func (d *Doctor) validateTokenScopes(r *Result) {
	seen := make(map[string]int)
	for i, token := range d.cfg.API.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d]", i)
		if prev, ok := seen[token.Token]; ok && token.Token != "" {
			d.addError(r, "token_scopes", field+".token",
				fmt.Sprintf("token value duplicates api.auth.tokens[%d]", prev))
		}
		seen[token.Token] = i
		if token.Token != "" && token.Token == d.cfg.API.Auth.APIKey {
			d.addError(r, "token_scopes", field+".token", "token value duplicates api.auth.api_key")
		}

		for j, scope := range token.Scopes {
			if auth.IsKnownScope(scope) {
				continue
			}
			d.addError(r, "token_scopes", fmt.Sprintf("%s.scopes[%d]", field, j),
				fmt.Sprintf("unknown scope %q (known: %s)", scope, strings.Join(auth.Scopes(), ", ")))
		}
	}
}

// validateOrigins checks the origins that dialog links and new tabs resolve
// against.
func (d *Doctor) validateOrigins(r *Result) {
	ipm := d.cfg.IPM
	if len(ipm.SafeOrigins) == 0 {
		d.addWarning(r, "origins", "ipm.safe_origins", "no safe origins: every dialog link and create_tab URL is rejected")
		return
	}
	trusted := false
	def := originOf(ipm.DefaultOrigin)
	for i, o := range ipm.SafeOrigins {
		norm := originOf(o)
		if norm == "" {
			d.addError(r, "origins", fmt.Sprintf("ipm.safe_origins[%d]", i),
				fmt.Sprintf("safe origin %q must be an absolute URL", o))
			continue
		}
		if norm != strings.TrimSuffix(strings.ToLower(o), "/") {
			d.addWarning(r, "origins", fmt.Sprintf("ipm.safe_origins[%d]", i),
				fmt.Sprintf("safe origin %q carries a path; only %s is compared", o, norm))
		}
		if norm == def {
			trusted = true
		}
	}
	if def != "" && !trusted {
		d.addWarning(r, "origins", "ipm.default_origin",
			fmt.Sprintf("default origin %s is not a safe origin: relative links are rejected", def))
	}
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// validateTimings checks timing overrides.
func (d *Doctor) validateTimings(r *Result) {
	names := make([]string, 0, len(d.cfg.Timings))
	for name := range d.cfg.Timings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := "timings." + name
		if !dialog.IsTiming(name) {
			d.addWarning(r, "timings", field, "unknown timing is ignored")
			continue
		}
		tc := d.cfg.Timings[name]
		minDelay, maxDelay := tc.MinAllowlistingDelay, tc.MaxAllowlistingDelay
		if minDelay != nil && maxDelay != nil && *minDelay > *maxDelay {
			d.addError(r, "timings", field,
				fmt.Sprintf("min_allowlisting_delay %g exceeds max_allowlisting_delay %g", *minDelay, *maxDelay))
		}
		if (minDelay != nil || maxDelay != nil) && !dialog.Timing(name).AllowlistingRelated() {
			d.addWarning(r, "timings", field, "allowlisting delays have no effect on this timing")
		}
		if tc.MaxDisplayCount == 0 {
			d.addWarning(r, "timings", field+".max_display_count", "max_display_count 0 dismisses dialogs before they are shown")
		}
	}
}

// warnStateBackend flags backends that lose commands on restart.
func (d *Doctor) warnStateBackend(r *Result) {
	if d.cfg.State.Backend == "memory" {
		d.addWarning(r, "state", "state.backend", "memory backend: commands and dialog stats are lost on restart")
	}
}

func (d *Doctor) warnPushSecret(r *Result) {
	if d.cfg.IPM.PushSecret == "" {
		d.addWarning(r, "ipm", "ipm.push_secret", "push secret is empty: POST /ipm/push is disabled")
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// warnSuspiciousPingInterval flags intervals the IPM server would throttle.
func (d *Doctor) warnSuspiciousPingInterval(r *Result) {
	if iv := d.cfg.IPM.PingInterval; iv > 0 && iv < time.Hour {
		d.addWarning(r, "schedule", "ipm.ping_interval",
			fmt.Sprintf("ping interval %s is very short (< 1h)", iv))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}

	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
	} else {
		fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
