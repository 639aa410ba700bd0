package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"applypilot/internal/config"
)

const userAgent = "applypilot/1.0"

// Event identifies a milestone.
type Event string

const (
	EventRunCompleted   Event = "run_completed"
	EventApplyCompleted Event = "apply_completed"
	EventApplied        Event = "applied"
	EventError          Event = "error"
	EventTest           Event = "test"
)

// Payload carries event fields. Keys per event:
//
//	run_completed:   runId, outcome, processed, succeeded, errored, duration
//	apply_completed: claimed, succeeded, failed, dryRun
//	applied:         title, company, url
//	error:           context, error
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether svc actually delivers anything.
func Enabled(svc Service) bool {
	if svc == nil {
		return false
	}
	_, noop := svc.(noopService)
	return !noop
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventRunCompleted:
		outcome := payload.text("outcome")
		msg := message{
			title: "applypilot - Run " + outcome,
			body: fmt.Sprintf("%d processed, %d succeeded, %d errored in %s",
				payload.number("processed"), payload.number("succeeded"), payload.number("errored"), payload.duration("duration")),
			tags: []string{"applypilot", "run", outcome},
		}
		if outcome == "aborted" {
			msg.priority = "high"
			if reason := payload.text("error"); reason != "" {
				msg.body += "\n" + reason
			}
		}
		return msg, true
	case EventApplyCompleted:
		claimed := payload.number("claimed")
		if claimed == 0 {
			return message{}, false
		}
		title := "applypilot - Applications sent"
		if dry, _ := payload["dryRun"].(bool); dry {
			title = "applypilot - Dry run finished"
		}
		return message{
			title: title,
			body: fmt.Sprintf("%d claimed, %d submitted, %d failed",
				claimed, payload.number("succeeded"), payload.number("failed")),
			tags: []string{"applypilot", "apply", "completed"},
		}, true
	case EventApplied:
		label := payload.text("title")
		if company := payload.text("company"); company != "" {
			label = fmt.Sprintf("%s at %s", label, company)
		}
		body := "Applied: " + strings.TrimSpace(label)
		if url := payload.text("url"); url != "" {
			body += "\n" + url
		}
		return message{
			title: "applypilot - Applied",
			body:  body,
			tags:  []string{"applypilot", "apply", "applied"},
		}, true
	case EventError:
		var b strings.Builder
		b.WriteString("Error")
		if label := payload.text("context"); label != "" {
			b.WriteString(" during ")
			b.WriteString(label)
		}
		b.WriteString(": ")
		if reason := payload.text("error"); reason != "" {
			b.WriteString(reason)
		} else {
			b.WriteString("unknown")
		}
		return message{
			title:    "applypilot - Error",
			body:     b.String(),
			tags:     []string{"applypilot", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "applypilot - Test",
			body:     "Notification system test",
			tags:     []string{"applypilot", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) text(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) number(key string) int64 {
	switch v := p[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

func (p Payload) duration(key string) string {
	d, _ := p[key].(time.Duration)
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
