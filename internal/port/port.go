// Package port carries outbound effects to the browser. Tab messages, CSS
// injection and tab creation are published on the events hub, where the
// extension shim picks them up from the SSE stream.
package port

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/mattjoyce/ipmgw/internal/events"
	"github.com/mattjoyce/ipmgw/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks github.com/mattjoyce/ipmgw/internal/port Publisher

// Event types published by Port.
const (
	EventTabMessage = "tab.message"
	EventTabCSS     = "tab.css"
	EventTabOpen    = "tab.open"
)

// DialogStylesheet is injected before a dialog is shown.
const DialogStylesheet = "skin/onpage-dialog.css"

// Publisher accepts outbound events.
type Publisher interface {
	Publish(eventType string, data any) events.Event
}

type Port struct {
	pub    Publisher
	logger *slog.Logger
}

func New(pub Publisher, logger *slog.Logger) *Port {
	return &Port{pub: pub, logger: logger.With("component", "port")}
}

// SendMessage delivers msg to the top frame of tabID.
func (p *Port) SendMessage(ctx context.Context, tabID int, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tabID < 0 {
		return fmt.Errorf("invalid tab id %d", tabID)
	}
	if err := protocol.Validate(&msg); err != nil {
		return err
	}
	ev := p.pub.Publish(EventTabMessage, map[string]any{
		"tab_id":   tabID,
		"frame_id": 0,
		"message":  msg,
	})
	p.logger.Debug("tab message published", "tab_id", tabID, "type", msg.Type, "event_id", ev.ID)
	return nil
}

// InsertCSS injects the dialog stylesheet into tabID as a user stylesheet.
func (p *Port) InsertCSS(ctx context.Context, tabID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tabID < 0 {
		return fmt.Errorf("invalid tab id %d", tabID)
	}
	p.pub.Publish(EventTabCSS, map[string]any{
		"tab_id": tabID,
		"file":   DialogStylesheet,
		"origin": "user",
	})
	return nil
}

// OpenTab opens target in a new tab.
func (p *Port) OpenTab(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("invalid tab url %q", target)
	}
	ev := p.pub.Publish(EventTabOpen, map[string]any{"url": u.String()})
	p.logger.Info("tab open published", "url", u.String(), "event_id", ev.ID)
	return nil
}
