package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/ipmgw/internal/config"
)

// ScheduleName is the scheduler entry that triggers pings.
const ScheduleName = "ipm-ping"

const maxResponseBytes = 1 << 20

// HTTPDoer sends HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Executor runs a command received from the server.
type Executor interface {
	Execute(ctx context.Context, raw any, reinit bool) error
}

// Scheduler runs the ping periodically.
type Scheduler interface {
	SetListener(name string, fn func(ctx context.Context, name string))
	HasSchedule(ctx context.Context, name string) (bool, error)
	SetSchedule(ctx context.Context, name string, interval time.Duration) error
}

// Service sends pings to the IPM server and executes its answers.
type Service struct {
	cfg      config.IPMConfig
	client   HTTPDoer
	host     Host
	events   *EventLog
	commands Executor
	logger   *slog.Logger
}

func NewService(cfg config.IPMConfig, client HTTPDoer, host Host, events *EventLog, commands Executor, logger *slog.Logger) *Service {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{
		cfg:      cfg,
		client:   client,
		host:     host,
		events:   events,
		commands: commands,
		logger:   logger.With("component", "telemetry"),
	}
}

// SendPing posts the payload to the IPM server. Recorded events are cleared
// before sending and are not retried if the request fails.
func (s *Service) SendPing(ctx context.Context) error {
	off, err := s.host.DataCollectionOptOut(ctx)
	if err != nil {
		return err
	}
	if off {
		s.logger.Debug("data collection disabled, ping skipped")
		return nil
	}

	payload, err := BuildPayload(ctx, s.host, s.cfg.Install, nil)
	if err != nil {
		return err
	}
	events, err := s.events.Drain(ctx)
	if err != nil {
		s.logger.Warn("event log not cleared", "error", err)
	}
	if events != nil {
		payload.Events = events
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode ping: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ServerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("ping sending failed", "error", err)
		return fmt.Errorf("send ping: %w", err)
	}
	defer resp.Body.Close()

	s.logger.Info("ping sent", "status", resp.StatusCode, "events", len(payload.Events))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error("bad response status from IPM server", "status", resp.StatusCode)
		return fmt.Errorf("ipm server responded %d", resp.StatusCode)
	}

	answer, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read ping response: %w", err)
	}
	return s.HandleCommand(ctx, answer)
}

// HandleCommand executes a command body sent by the IPM server. An empty
// body is not a command.
func (s *Service) HandleCommand(ctx context.Context, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var cmd map[string]any
	if err := json.Unmarshal(body, &cmd); err != nil {
		s.logger.Error("error parsing IPM response", "error", err)
		return fmt.Errorf("parse ipm response: %w", err)
	}
	return s.commands.Execute(ctx, cmd, false)
}

// Start registers the ping listener. Without a persisted schedule, a ping
// is sent right away and the interval schedule is created.
func (s *Service) Start(ctx context.Context, sched Scheduler) error {
	sched.SetListener(ScheduleName, func(ctx context.Context, _ string) {
		if err := s.SendPing(ctx); err != nil {
			s.logger.Warn("scheduled ping failed", "error", err)
		}
	})

	ok, err := sched.HasSchedule(ctx, ScheduleName)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	var errs []error
	if err := s.SendPing(ctx); err != nil {
		s.logger.Warn("initial ping failed", "error", err)
		errs = append(errs, err)
	}
	if err := sched.SetSchedule(ctx, ScheduleName, s.cfg.PingInterval); err != nil {
		return errors.Join(append(errs, err)...)
	}
	return nil
}
