package dialog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mattjoyce/ipmgw/internal/ipm"
)

const defaultDisplayDuration = 5

// Actor shapes create_on_page_dialog commands.
type Actor struct {
	handler ipm.Handler
	params  []ipm.ParamDefinition
	logger  *slog.Logger
}

// NewActor builds the actor. handler runs once a valid command is stored.
func NewActor(policy *ipm.OriginPolicy, handler ipm.Handler, logger *slog.Logger) *Actor {
	return &Actor{
		handler: handler,
		logger:  logger.With("component", "onpage-dialog"),
		params: []ipm.ParamDefinition{
			{Name: "timing", Validate: isCommandTiming},
			{Name: "display_duration", Validate: ipm.Optional(ipm.IsInRange(0, 20))},
			{Name: "sub_title", Validate: ipm.IsNotEmpty},
			{Name: "upper_body", Validate: ipm.IsNotEmpty},
			{Name: "button_label", Validate: ipm.IsNotEmpty},
			{Name: "button_target", Validate: policy.IsSafeURL},
			{Name: "domain_list", Validate: ipm.IsValidDomainList},
			{Name: "license_state_list", Validate: ipm.IsValidLicenseStateList},
		},
	}
}

// isCommandTiming accepts the timings a remote command may request.
// immediate is reserved for locally triggered dialogs.
func isCommandTiming(param any) bool {
	if param == nil {
		return true
	}
	s, ok := param.(string)
	if !ok {
		return false
	}
	switch Timing(s) {
	case TimingAfterWebAllowlisting, TimingRevisitWebAllowlisted, TimingAfterNavigation:
		return true
	}
	return false
}

func (a *Actor) IsValidCommand(cmd ipm.Command) bool {
	if errs := ipm.ValidateParams(cmd, a.params); len(errs) > 0 {
		a.logger.Error("invalid parameters received", "ipm_id", cmd.ID(), "errors", strings.Join(errs, " "))
		return false
	}
	return true
}

func (a *Actor) Behavior(_ context.Context, cmd ipm.Command) (any, bool) {
	if !a.IsValidCommand(cmd) {
		return nil, false
	}
	b := &Behavior{DisplayDuration: defaultDisplayDuration}
	if d, ok := cmd.Number("display_duration"); ok {
		b.DisplayDuration = d
	}
	b.Target, _ = cmd.String("button_target")
	timing, _ := cmd.String("timing")
	b.Timing = Timing(timing)
	b.DomainList, _ = cmd.String("domain_list")
	if list, ok := cmd.String("license_state_list"); ok {
		b.LicenseStateList = list
	} else {
		b.LicenseStateList = string(ipm.DefaultLicenseState)
	}
	return b, true
}

func (a *Actor) Content(cmd ipm.Command) (any, bool) {
	if !a.IsValidCommand(cmd) {
		return nil, false
	}
	upper, _ := cmd.String("upper_body")
	c := &Content{Body: []string{upper}}
	if lower, _ := cmd.String("lower_body"); lower != "" {
		c.Body = append(c.Body, lower)
	}
	c.Button, _ = cmd.String("button_label")
	c.Title, _ = cmd.String("sub_title")
	return c, true
}

func (a *Actor) HandleCommand(ctx context.Context, ipmID string) error {
	return a.handler(ctx, ipmID)
}
