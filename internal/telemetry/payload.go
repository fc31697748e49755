// Package telemetry records IPM events and exchanges them with the IPM
// server, which may answer with a new command.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/ipmgw/internal/config"
	"github.com/mattjoyce/ipmgw/internal/ipm"
)

const (
	dataTypeCustomer = "customer"
	dataTypeDevice   = "device"
	dataTypeEvent    = "event"
	platformWeb      = "web"

	userTimeLayout = "2006-01-02T15:04:05"
)

type BaseAttributes struct {
	AppName               string `json:"app_name"`
	BrowserName           string `json:"browser_name"`
	OS                    string `json:"os"`
	LanguageTag           string `json:"language_tag"`
	AppVersion            string `json:"app_version"`
	CommandLibraryVersion int    `json:"command_library_version"`
	InstallType           string `json:"install_type"`
}

type EventAttributes struct {
	BaseAttributes
	IPMID          string `json:"ipm_id"`
	CommandName    string `json:"command_name"`
	CommandVersion int    `json:"command_version"`
}

// EventData is one entry of the event log.
type EventData struct {
	Type       string          `json:"type"`
	DeviceID   string          `json:"device_id"`
	Action     string          `json:"action"`
	Platform   string          `json:"platform"`
	AppVersion string          `json:"app_version"`
	UserTime   string          `json:"user_time"` // local time, no zone
	Attributes EventAttributes `json:"attributes"`
}

type DeviceAttributes struct {
	BaseAttributes
	BlockedTotal  int    `json:"blocked_total"` // always 0
	LicenseStatus string `json:"license_status"`
}

type DeviceData struct {
	Type       string           `json:"type"`
	DeviceID   string           `json:"device_id"`
	Attributes DeviceAttributes `json:"attributes"`
}

type PlatformInfo struct {
	Platform string `json:"platform"`
	Active   string `json:"active"`
}

type UserData struct {
	Type       string         `json:"type"`
	Platforms  []PlatformInfo `json:"platforms"`
	Attributes BaseAttributes `json:"attributes"`
}

// Payload is the body of a ping.
type Payload struct {
	User   UserData    `json:"user"`
	Device DeviceData  `json:"device"`
	Events []EventData `json:"events"`
}

// Host is the installation state reported in pings.
type Host interface {
	DataCollectionOptOut(ctx context.Context) (bool, error)
	PremiumActive(ctx context.Context) (bool, error)
	InstallationID(ctx context.Context) (string, error)
}

func baseAttributes(info config.InstallInfo) BaseAttributes {
	return BaseAttributes{
		AppName:               info.AppName,
		BrowserName:           info.BrowserName,
		OS:                    info.OS,
		LanguageTag:           info.LanguageTag,
		AppVersion:            info.AppVersion,
		CommandLibraryVersion: ipm.LibraryVersion,
		InstallType:           info.InstallType,
	}
}

// BuildPayload assembles a ping body from the host state and events.
func BuildPayload(ctx context.Context, host Host, info config.InstallInfo, events []EventData) (*Payload, error) {
	deviceID, err := host.InstallationID(ctx)
	if err != nil {
		return nil, fmt.Errorf("installation id: %w", err)
	}
	premium, err := host.PremiumActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("license state: %w", err)
	}
	license := ipm.LicenseInactive
	if premium {
		license = ipm.LicenseActive
	}
	if events == nil {
		events = []EventData{}
	}

	base := baseAttributes(info)
	return &Payload{
		User: UserData{
			Type:       dataTypeCustomer,
			Platforms:  []PlatformInfo{{Platform: platformWeb, Active: "true"}},
			Attributes: base,
		},
		Device: DeviceData{
			Type:     dataTypeDevice,
			DeviceID: deviceID,
			Attributes: DeviceAttributes{
				BaseAttributes: base,
				LicenseStatus:  string(license),
			},
		},
		Events: events,
	}, nil
}

func userTime(t time.Time) string {
	return t.Format(userTimeLayout)
}
