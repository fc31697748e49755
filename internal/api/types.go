package api

import (
	"github.com/mattjoyce/ipmgw/internal/dialog"
)

// TabUpdateRequest is the JSON body for POST /tabs/{tabID}/updated.
type TabUpdateRequest struct {
	Status    string `json:"status"`
	URL       string `json:"url"`
	Incognito bool   `json:"incognito,omitempty"`
}

// TabCreateRequest is the JSON body for POST /tabs/{tabID}/created.
type TabCreateRequest struct {
	URL string `json:"url"`
}

// MessageResponse wraps the reply to a content-script message.
type MessageResponse struct {
	Response any `json:"response"`
}

// CommandListResponse is returned by GET /commands.
type CommandListResponse struct {
	Commands []string `json:"commands"`
	// Deferred counts commands waiting for their actor.
	Deferred int `json:"deferred"`
	// NewTabPending lists create_tab commands waiting for a new tab.
	NewTabPending []string `json:"new_tab_pending"`
}

// ExecuteResponse is returned on successful command execution.
type ExecuteResponse struct {
	IPMID  string `json:"ipm_id"`
	Status string `json:"status"`
}

// DialogsResponse is returned by GET /dialogs.
type DialogsResponse struct {
	Unassigned []dialog.Dialog       `json:"unassigned"`
	Assigned   map[int]dialog.Dialog `json:"assigned"`
}

// AllowlistRequest is the JSON body for PUT /allowlist/{domain}.
type AllowlistRequest struct {
	Origin string `json:"origin,omitempty"`
	// Created is epoch milliseconds; zero means now.
	Created int64 `json:"created,omitempty"`
}

type LicenseRequest struct {
	Active *bool `json:"active"`
}

type NotificationsRequest struct {
	Ignored []string `json:"ignored"`
}

type DataCollectionRequest struct {
	OptOut *bool `json:"opt_out"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	DeferredCount   int    `json:"deferred_commands"`
	AssignedDialogs int    `json:"assigned_dialogs"`
	QueuedDialogs   int    `json:"queued_dialogs"`
}
