package service

import (
	"context"
	"fmt"
	"strings"

	"subwatch/internal/tracker/repository"
	appErr "subwatch/pkg/errors"
	"subwatch/pkg/utils/logger"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

const (
	DefaultNotificationTitle = "CodeChef Submission Result"
	DefaultNotificationIcon  = "icons/icon.png"
)

// Notifier delivers the final verdict of a submission to the user.
type Notifier interface {
	Notify(ctx context.Context, problemName, problemCode, verdict string) error
}

// FormatNotification builds the user-facing message.
func FormatNotification(problemName, problemCode, verdict string) string {
	return fmt.Sprintf("%s (%s): %s", problemName, problemCode, verdict)
}

// Priority selects how intrusive a desktop notification is.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// DesktopConfig configures desktop notifications.
type DesktopConfig struct {
	Title    string
	IconPath string
	Priority Priority
}

// DesktopNotifier shows a native desktop notification.
type DesktopNotifier struct {
	title    string
	icon     string
	priority Priority
	notify   func(title, message, icon string) error
	alert    func(title, message, icon string) error
}

// NewDesktopNotifier creates a desktop notifier with defaults for unset fields.
func NewDesktopNotifier(cfg DesktopConfig) *DesktopNotifier {
	n := &DesktopNotifier{
		title:    cfg.Title,
		icon:     cfg.IconPath,
		priority: cfg.Priority,
		notify:   beeep.Notify,
		alert:    beeep.Alert,
	}
	if n.title == "" {
		n.title = DefaultNotificationTitle
	}
	if n.icon == "" {
		n.icon = DefaultNotificationIcon
	}
	if n.priority == "" {
		n.priority = PriorityHigh
	}
	return n
}

// Notify shows the notification. High priority also plays the system alert sound.
func (n *DesktopNotifier) Notify(ctx context.Context, problemName, problemCode, verdict string) error {
	message := FormatNotification(problemName, problemCode, verdict)
	send := n.notify
	if n.priority == PriorityHigh {
		send = n.alert
	}
	if err := send(n.title, message, n.icon); err != nil {
		return appErr.Wrapf(err, appErr.NotifyFailed, "desktop notification failed")
	}
	logger.Info(ctx, "notification sent", zap.String("message", message))
	return nil
}

// StatusNotifier records the outcome as the daemon's last status.
type StatusNotifier struct {
	repo *repository.StatusRepository
}

// NewStatusNotifier creates a notifier backed by repo.
func NewStatusNotifier(repo *repository.StatusRepository) *StatusNotifier {
	return &StatusNotifier{repo: repo}
}

// Notify stores the verdict and the problem label.
func (n *StatusNotifier) Notify(ctx context.Context, problemName, problemCode, verdict string) error {
	return n.repo.Save(ctx, verdict, fmt.Sprintf("%s (%s)", problemName, problemCode))
}

// MultiNotifier fans a verdict out to several notifiers.
// A failing or panicking notifier does not stop the others.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier skips nil entries.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify delivers to every notifier and joins their failures.
func (m *MultiNotifier) Notify(ctx context.Context, problemName, problemCode, verdict string) error {
	var failures []string
	for _, n := range m.notifiers {
		if err := safeNotify(ctx, n, problemName, problemCode, verdict); err != nil {
			logger.Warn(ctx, "notifier failed", zap.String("notifier", fmt.Sprintf("%T", n)), zap.Error(err))
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return appErr.Newf(appErr.NotifyFailed, "%d of %d notifiers failed: %s",
			len(failures), len(m.notifiers), strings.Join(failures, "; "))
	}
	return nil
}

func safeNotify(ctx context.Context, n Notifier, problemName, problemCode, verdict string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = appErr.Newf(appErr.NotifyFailed, "notifier panicked: %v", r)
		}
	}()
	return n.Notify(ctx, problemName, problemCode, verdict)
}
