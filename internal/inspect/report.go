package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/ipmgw/internal/dialog"
	"github.com/mattjoyce/ipmgw/internal/ipm"
)

// ErrNotFound is returned for an ipm_id with no stored command.
var ErrNotFound = errors.New("command not found")

// CommandSource resolves stored commands and their decoded views.
type CommandSource interface {
	Command(ctx context.Context, ipmID string) (ipm.Command, error)
	Behavior(ctx context.Context, ipmID string) (any, error)
	Content(ctx context.Context, ipmID string) (any, error)
}

// StatsSource returns dialog display statistics.
type StatsSource interface {
	Get(ctx context.Context, ipmID string) (dialog.Stats, bool, error)
}

// Report is the structured JSON representation of a command report.
type Report struct {
	IPMID    string        `json:"ipm_id"`
	Name     string        `json:"command_name"`
	Version  int           `json:"version"`
	Command  ipm.Command   `json:"command"`
	Behavior any           `json:"behavior"`
	Content  any           `json:"content"`
	Stats    *dialog.Stats `json:"stats,omitempty"`
	// AssignedTab is set when a dialog for the command is on screen.
	AssignedTab *int `json:"assigned_tab,omitempty"`
}

// Gather collects everything known about ipmID. stats may be nil.
func Gather(ctx context.Context, commands CommandSource, stats StatsSource, ipmID string) (*Report, error) {
	ipmID = strings.TrimSpace(ipmID)
	if ipmID == "" {
		return nil, fmt.Errorf("ipm_id is required")
	}

	cmd, err := commands.Command(ctx, ipmID)
	if err != nil {
		return nil, fmt.Errorf("load command %q: %w", ipmID, err)
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ipmID)
	}

	report := &Report{
		IPMID:   cmd.ID(),
		Name:    cmd.Name(),
		Command: cmd,
	}
	report.Version, _ = cmd.Version()

	if report.Behavior, err = commands.Behavior(ctx, ipmID); err != nil {
		return nil, fmt.Errorf("decode behavior of %q: %w", ipmID, err)
	}
	if report.Content, err = commands.Content(ctx, ipmID); err != nil {
		return nil, fmt.Errorf("decode content of %q: %w", ipmID, err)
	}

	if stats != nil {
		s, ok, err := stats.Get(ctx, ipmID)
		if err != nil {
			return nil, fmt.Errorf("load stats of %q: %w", ipmID, err)
		}
		if ok {
			report.Stats = &s
		}
	}
	return report, nil
}

// WithAssignment marks the tab the command's dialog is shown on, if any.
func (r *Report) WithAssignment(snap dialog.Snapshot) *Report {
	for tabID, d := range snap.Assigned {
		if d.IPMID == r.IPMID {
			tab := tabID
			r.AssignedTab = &tab
			break
		}
	}
	return r
}

// Text renders a terminal-friendly report.
func (r *Report) Text() string {
	var out strings.Builder
	fmt.Fprintf(&out, "Command Report\n")
	fmt.Fprintf(&out, "IPM ID      : %s\n", r.IPMID)
	fmt.Fprintf(&out, "Command     : %s\n", r.Name)
	fmt.Fprintf(&out, "Version     : %d\n", r.Version)
	if r.Stats != nil {
		fmt.Fprintf(&out, "Displayed   : %d\n", r.Stats.DisplayCount)
		fmt.Fprintf(&out, "Last shown  : %s\n", renderMillis(r.Stats.LastDisplayTime))
	} else {
		fmt.Fprintf(&out, "Displayed   : <no stats>\n")
	}
	if r.AssignedTab != nil {
		fmt.Fprintf(&out, "Tab         : %d\n", *r.AssignedTab)
	}
	fmt.Fprintf(&out, "\n")

	writeSection(&out, "behavior", r.Behavior)
	writeSection(&out, "content", r.Content)

	fmt.Fprintf(&out, "parameters:\n")
	keys := make([]string, 0, len(r.Command))
	for k := range r.Command {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&out, "  %-20s %v\n", k, r.Command[k])
	}

	return strings.TrimRight(out.String(), "\n") + "\n"
}

// JSON returns the machine-readable report.
func (r *Report) JSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func writeSection(out *strings.Builder, name string, v any) {
	if v == nil {
		fmt.Fprintf(out, "%s: <invalid>\n\n", name)
		return
	}
	fmt.Fprintf(out, "%s:\n", name)
	for _, line := range strings.Split(prettyJSON(v), "\n") {
		fmt.Fprintf(out, "  %s\n", line)
	}
	fmt.Fprintf(out, "\n")
}

func prettyJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

func renderMillis(ms int64) string {
	if ms <= 0 {
		return "<never>"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
