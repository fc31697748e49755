package api

import (
	"net/http"
	"strings"
)

type routeDoc struct {
	Method  string
	Path    string
	Scope   string
	Summary string
}

// documentedRoutes lists the public API surface served by setupRoutes.
var documentedRoutes = []routeDoc{
	{http.MethodGet, "/healthz", "", "Service health"},
	{http.MethodPost, "/ipm/push", "", "Signed command push from the IPM server"},
	{http.MethodPost, "/tabs/{tabID}/created", "tabs:rw", "Report a new tab"},
	{http.MethodPost, "/tabs/{tabID}/updated", "tabs:rw", "Report a tab navigation or status change"},
	{http.MethodPost, "/tabs/{tabID}/messages", "tabs:rw", "Relay a content-script message"},
	{http.MethodDelete, "/tabs/{tabID}", "tabs:rw", "Report a closed tab"},
	{http.MethodGet, "/commands", "commands:ro", "List stored commands"},
	{http.MethodGet, "/commands/{ipmID}", "commands:ro", "Inspect a stored command"},
	{http.MethodPost, "/commands", "commands:rw", "Execute a command"},
	{http.MethodDelete, "/commands/{ipmID}", "commands:rw", "Dismiss a command"},
	{http.MethodGet, "/dialogs", "commands:ro", "Queued and assigned dialogs"},
	{http.MethodGet, "/allowlist", "host:rw", "List allowlisting filters"},
	{http.MethodPut, "/allowlist/{domain}", "host:rw", "Allowlist a domain"},
	{http.MethodDelete, "/allowlist/{domain}", "host:rw", "Remove an allowlisting filter"},
	{http.MethodPut, "/host/license", "host:rw", "Set the license state"},
	{http.MethodPut, "/host/notifications", "host:rw", "Set ignored notification categories"},
	{http.MethodPut, "/host/data-collection", "host:rw", "Set the data collection opt-out"},
	{http.MethodGet, "/events", "events:ro", "Server-sent event stream"},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document of documentedRoutes.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{}
	for _, rt := range documentedRoutes {
		item, ok := paths[rt.Path].(map[string]any)
		if !ok {
			item = map[string]any{}
			paths[rt.Path] = item
		}

		op := map[string]any{
			"summary": rt.Summary,
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
				"400": map[string]any{"description": "Bad request"},
			},
		}
		if rt.Scope != "" {
			op["security"] = []any{map[string]any{"BearerAuth": []string{rt.Scope}}}
			op["responses"].(map[string]any)["403"] = map[string]any{"description": "Insufficient scope"}
		}
		item[strings.ToLower(rt.Method)] = op
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "ipmgw",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}
