package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/ipmgw/internal/dialog"
	"github.com/mattjoyce/ipmgw/internal/host"
	"github.com/mattjoyce/ipmgw/internal/inspect"
	"github.com/mattjoyce/ipmgw/internal/ipm"
	"github.com/mattjoyce/ipmgw/internal/newtab"
	"github.com/mattjoyce/ipmgw/internal/protocol"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Dialogs.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("failed to snapshot dialogs", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "dialog manager unavailable")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		DeferredCount:   s.deps.Commands.PendingCount(),
		AssignedDialogs: len(snap.Assigned),
		QueuedDialogs:   len(snap.Unassigned),
	})
}

// handleTabCreated handles POST /tabs/{tabID}/created.
func (s *Server) handleTabCreated(w http.ResponseWriter, r *http.Request) {
	tabID, ok := s.tabID(w, r)
	if !ok {
		return
	}
	var req TabCreateRequest
	if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
		return
	}
	if s.deps.NewTabs != nil {
		if err := s.deps.NewTabs.TabCreated(r.Context(), newtab.Tab{ID: tabID, URL: req.URL}); err != nil {
			s.writeInternal(w, "tab created", err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTabUpdated handles POST /tabs/{tabID}/updated.
func (s *Server) handleTabUpdated(w http.ResponseWriter, r *http.Request) {
	tabID, ok := s.tabID(w, r)
	if !ok {
		return
	}
	var req TabUpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		s.writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	err := s.deps.Dialogs.TabUpdated(r.Context(), dialog.Tab{
		ID:        tabID,
		URL:       req.URL,
		Status:    req.Status,
		Incognito: req.Incognito,
	})
	if s.deps.NewTabs != nil {
		err = errors.Join(err, s.deps.NewTabs.TabUpdated(r.Context(), newtab.Tab{ID: tabID, URL: req.URL, Status: req.Status}))
	}
	if err != nil {
		s.writeInternal(w, "tab updated", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTabRemoved handles DELETE /tabs/{tabID}.
func (s *Server) handleTabRemoved(w http.ResponseWriter, r *http.Request) {
	tabID, ok := s.tabID(w, r)
	if !ok {
		return
	}
	if s.deps.NewTabs != nil {
		s.deps.NewTabs.TabRemoved(tabID)
	}
	if err := s.deps.Dialogs.TabRemoved(r.Context(), tabID); err != nil {
		s.writeInternal(w, "tab removed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTabMessage handles POST /tabs/{tabID}/messages: one content-script
// message, answered with the handler's response.
func (s *Server) handleTabMessage(w http.ResponseWriter, r *http.Request) {
	tabID, ok := s.tabID(w, r)
	if !ok {
		return
	}
	msg, err := protocol.DecodeMessage(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg.Type == protocol.TypeShow || msg.Type == protocol.TypeHide {
		s.writeError(w, http.StatusBadRequest, "message type is not accepted from content scripts")
		return
	}

	resp, err := s.deps.Dialogs.HandleMessage(r.Context(), tabID, *msg)
	if err != nil {
		s.writeInternal(w, "content-script message", err)
		return
	}
	respondJSON(w, http.StatusOK, MessageResponse{Response: resp})
}

// handleListCommands handles GET /commands.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	ids, err := s.deps.Commands.CommandIDs(r.Context())
	if err != nil {
		s.writeInternal(w, "list commands", err)
		return
	}
	resp := CommandListResponse{
		Commands:      ids,
		Deferred:      s.deps.Commands.PendingCount(),
		NewTabPending: []string{},
	}
	if s.deps.NewTabs != nil {
		resp.NewTabPending = append(resp.NewTabPending, s.deps.NewTabs.Pending()...)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetCommand handles GET /commands/{ipmID}.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	report, err := inspect.Gather(r.Context(), s.deps.Commands, s.deps.Stats, chi.URLParam(r, "ipmID"))
	if errors.Is(err, inspect.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "command not found")
		return
	}
	if err != nil {
		s.writeInternal(w, "inspect command", err)
		return
	}
	if snap, err := s.deps.Dialogs.Snapshot(r.Context()); err == nil {
		report.WithAssignment(snap)
	}
	respondJSON(w, http.StatusOK, report)
}

// handleExecuteCommand handles POST /commands with a raw IPM command.
func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if !s.decodeJSON(w, r, &raw) {
		return
	}
	reinit := r.URL.Query().Get("reinit") == "true"

	if err := s.deps.Commands.Execute(r.Context(), raw, reinit); err != nil {
		s.writeCommandError(w, err)
		return
	}
	id, _ := raw["ipm_id"].(string)
	respondJSON(w, http.StatusAccepted, ExecuteResponse{IPMID: id, Status: "accepted"})
}

// handleDismissCommand handles DELETE /commands/{ipmID}.
func (s *Server) handleDismissCommand(w http.ResponseWriter, r *http.Request) {
	ipmID := chi.URLParam(r, "ipmID")
	cmd, err := s.deps.Commands.Command(r.Context(), ipmID)
	if err != nil {
		s.writeInternal(w, "load command", err)
		return
	}
	if cmd == nil {
		s.writeError(w, http.StatusNotFound, "command not found")
		return
	}
	for _, d := range s.deps.Droppers {
		if err := d.Drop(r.Context(), ipmID); err != nil {
			s.writeInternal(w, "drop command", err)
			return
		}
	}
	if err := s.deps.Commands.Dismiss(r.Context(), ipmID); err != nil {
		s.writeInternal(w, "dismiss command", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDialogs handles GET /dialogs.
func (s *Server) handleDialogs(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Dialogs.Snapshot(r.Context())
	if err != nil {
		s.writeInternal(w, "snapshot dialogs", err)
		return
	}
	respondJSON(w, http.StatusOK, DialogsResponse{Unassigned: snap.Unassigned, Assigned: snap.Assigned})
}

func (s *Server) handleListAllowlist(w http.ResponseWriter, r *http.Request) {
	filters, err := s.deps.Host.AllowlistFilters(r.Context())
	if err != nil {
		s.writeInternal(w, "list allowlisting", err)
		return
	}
	respondJSON(w, http.StatusOK, filters)
}

// handleAllowlist handles PUT /allowlist/{domain}.
func (s *Server) handleAllowlist(w http.ResponseWriter, r *http.Request) {
	var req AllowlistRequest
	if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
		return
	}
	var created time.Time
	if req.Created > 0 {
		created = time.UnixMilli(req.Created)
	}
	filter, err := s.deps.Host.Allowlist(r.Context(), chi.URLParam(r, "domain"), req.Origin, created)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, filter)
}

// handleRemoveAllowlist handles DELETE /allowlist/{domain}.
func (s *Server) handleRemoveAllowlist(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Host.RemoveAllowlisting(r.Context(), chi.URLParam(r, "domain"))
	if errors.Is(err, host.ErrNotAllowlisted) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeInternal(w, "remove allowlisting", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLicense(w http.ResponseWriter, r *http.Request) {
	var req LicenseRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		s.writeError(w, http.StatusBadRequest, "active is required")
		return
	}
	if err := s.deps.Host.SetPremium(r.Context(), *req.Active); err != nil {
		s.writeInternal(w, "set license", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	var req NotificationsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Host.SetIgnoredCategories(r.Context(), req.Ignored); err != nil {
		s.writeInternal(w, "set ignored categories", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDataCollection(w http.ResponseWriter, r *http.Request) {
	var req DataCollectionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.OptOut == nil {
		s.writeError(w, http.StatusBadRequest, "opt_out is required")
		return
	}
	if err := s.deps.Host.SetDataCollectionOptOut(r.Context(), *req.OptOut); err != nil {
		s.writeInternal(w, "set data collection", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePush handles POST /ipm/push, a signed command body from the IPM server.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if err := verifySignature(body, r.Header.Get(SignatureHeader), s.config.PushSecret); err != nil {
		s.logger.Warn("rejected ipm push", "remote", r.RemoteAddr)
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.deps.Pusher.HandleCommand(r.Context(), body); err != nil {
		s.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) tabID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "tabID"))
	if err != nil || id < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid tab id")
		return 0, false
	}
	return id, true
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeCommandError maps command engine errors to status codes.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ipm.ErrDuplicateCommand):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ipm.ErrMalformedCommand),
		errors.Is(err, ipm.ErrUnknownCommand),
		errors.Is(err, ipm.ErrVersionMismatch),
		errors.Is(err, ipm.ErrInvalidParams):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeInternal(w, "execute command", err)
	}
}

func (s *Server) writeInternal(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, dialog.ErrStopped) {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Error("request failed", "op", op, "error", err)
	s.writeError(w, http.StatusInternalServerError, op+" failed")
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
