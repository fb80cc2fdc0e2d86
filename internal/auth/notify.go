package auth

import (
	"context"
	"net/url"

	"craftctrl.dev/internal/obs"
)

// Notifier dispatches out-of-band messages carrying a password reset link.
// Delivery failures must never surface to the reset-request caller; the
// service logs them and reports success regardless.
type Notifier interface {
	SendPasswordReset(ctx context.Context, user *User, link string) error
}

// ResetLink builds the dashboard URL a reset recipient follows.
func ResetLink(frontendBase, apiBase, token string) string {
	return frontendBase + "/change/" + token + "?server=" + url.QueryEscape(apiBase)
}

// LogNotifier is the default Notifier: it records the dispatch as a log line
// instead of sending mail. Deployments plug in a real mail sender.
type LogNotifier struct{}

func (LogNotifier) SendPasswordReset(ctx context.Context, user *User, link string) error {
	obs.LogRequest(map[string]any{
		"level": "info",
		"msg":   "password reset link issued",
		"user":  user.Username,
		"email": user.Email,
	})
	return nil
}
