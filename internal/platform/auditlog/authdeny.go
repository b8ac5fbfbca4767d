package auditlog

import (
	"context"
	"net"

	"github.com/animus-labs/animus-hpo/internal/platform/auth"
)

// AuthDenyFunc records rejected requests as "auth.<reason>" events against
// the "METHOD path" resource.
func (w *Writer) AuthDenyFunc(service string) auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		_, err := w.Write(ctx, denyEvent(service, event))
		return err
	}
}

func denyEvent(service string, event auth.DenyEvent) Event {
	actor := event.Subject
	if actor == "" {
		actor = "anonymous"
	}
	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}
	return Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + event.Reason,
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"error":   event.Error,
			"roles":   event.Roles,
		},
	}
}
