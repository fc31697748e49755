// Package dialog schedules on-page dialogs: it decides per tab and over time
// whether a queued dialog may be shown, and tears it down again.
package dialog

// Timing names the trigger condition of a dialog.
type Timing string

const (
	TimingAfterWebAllowlisting  Timing = "after_web_allowlisting"
	TimingImmediate             Timing = "immediate"
	TimingRevisitWebAllowlisted Timing = "revisit_web_allowlisted_site"
	TimingAfterNavigation       Timing = "after_navigation"
)

// IsTiming reports whether s names a known timing.
func IsTiming(s string) bool {
	switch Timing(s) {
	case TimingAfterWebAllowlisting, TimingImmediate, TimingRevisitWebAllowlisted, TimingAfterNavigation:
		return true
	}
	return false
}

// AllowlistingRelated reports whether the timing waits on an allowlisting.
func (t Timing) AllowlistingRelated() bool {
	return t == TimingAfterWebAllowlisting || t == TimingRevisitWebAllowlisted
}

// Behavior controls when, where and for how long a dialog is shown.
type Behavior struct {
	DisplayDuration  float64 `json:"displayDuration"`
	Target           string  `json:"target"`
	Timing           Timing  `json:"timing"`
	DomainList       string  `json:"domainList,omitempty"`
	LicenseStateList string  `json:"licenseStateList"`
}

// Content is rendered by the content script.
type Content struct {
	Title  string   `json:"title"`
	Body   []string `json:"body"`
	Button string   `json:"button"`
}

// Dialog is a unit of on-page UI. IPMID is empty for locally triggered dialogs.
type Dialog struct {
	ID       string   `json:"id"`
	IPMID    string   `json:"ipmId,omitempty"`
	Behavior Behavior `json:"behavior"`
	Content  Content  `json:"content"`
}

// EventType is recorded for IPM dialogs on every lifecycle transition.
type EventType string

const (
	EventButtonClicked EventType = "dialog_button_clicked"
	EventClosed        EventType = "dialog_closed"
	EventIgnored       EventType = "dialog_ignored"
	EventInjected      EventType = "dialog_injected"
)

// Stats tracks how often and when a dialog was last shown.
type Stats struct {
	DisplayCount    int   `json:"displayCount"`
	LastDisplayTime int64 `json:"lastDisplayTime"` // epoch ms
}

// TimingConfiguration bounds how often a timing may show a dialog.
// CooldownDuration is in hours, the allowlisting delays in minutes.
type TimingConfiguration struct {
	CooldownDuration     float64  `json:"cooldownDuration"`
	MaxDisplayCount      int      `json:"maxDisplayCount"`
	MinAllowlistingDelay *float64 `json:"minAllowlistingDelay,omitempty"`
	MaxAllowlistingDelay *float64 `json:"maxAllowlistingDelay,omitempty"`
}

// Tab is the state of a browser tab as reported by the extension.
type Tab struct {
	ID        int    `json:"id"`
	URL       string `json:"url"`
	Status    string `json:"status"` // loading | complete
	Incognito bool   `json:"incognito"`
}

// DefaultTimingConfigurations are used until preferences override them.
func DefaultTimingConfigurations() map[Timing]TimingConfiguration {
	maxDelay := 2.0
	minDelay := 48 * 60.0
	return map[Timing]TimingConfiguration{
		TimingAfterWebAllowlisting: {
			CooldownDuration:     24,
			MaxAllowlistingDelay: &maxDelay,
			MaxDisplayCount:      3,
		},
		TimingRevisitWebAllowlisted: {
			CooldownDuration:     48,
			MaxDisplayCount:      3,
			MinAllowlistingDelay: &minDelay,
		},
		TimingAfterNavigation: {
			CooldownDuration: 24,
			MaxDisplayCount:  1,
		},
		TimingImmediate: {
			CooldownDuration: 0,
			MaxDisplayCount:  1,
		},
	}
}
