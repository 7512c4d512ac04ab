package station

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"qrattend/internal/logging"
)

// presenceFunc is told when the watched node appears (present) or goes away.
type presenceFunc func(ctx context.Context, device string, present bool)

// deviceMonitor follows udev netlink events for a single video4linux node.
type deviceMonitor struct {
	device string
	logger *slog.Logger
	notify presenceFunc
	rules  netlink.Matcher

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newDeviceMonitor(device string, logger *slog.Logger, notify presenceFunc) *deviceMonitor {
	device = strings.TrimSpace(device)
	if device == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &deviceMonitor{
		device: device,
		logger: logging.NewComponentLogger(logger, "device-monitor"),
		notify: notify,
		rules:  videoRules(),
	}
}

// videoRules matches SUBSYSTEM=video4linux with ACTION=add|remove.
func videoRules() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env:    map[string]string{"SUBSYSTEM": "video4linux"},
	})
	return rules
}

// Start opens the udev netlink socket and follows events until ctx ends or
// Stop is called.
func (m *deviceMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return fmt.Errorf("connect udev netlink: %w", err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.follow(loopCtx, conn, m.done)

	m.logger.Info("device monitor started",
		logging.String(logging.FieldEventType, "device_monitor_started"),
		logging.String("device", m.device),
	)
	return nil
}

// Stop ends the event loop and waits for it to release the socket.
func (m *deviceMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("device monitor stopped",
		logging.String(logging.FieldEventType, "device_monitor_stopped"),
	)
}

// Running reports whether the event loop is active.
func (m *deviceMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *deviceMonitor) follow(ctx context.Context, conn *netlink.UEventConn, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	events := make(chan netlink.UEvent)
	errs := make(chan error)
	stopMonitor := conn.Monitor(events, errs, m.rules)
	defer close(stopMonitor)

	for {
		select {
		case <-ctx.Done():
			return
		case uevent := <-events:
			m.observe(ctx, uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "camera hotplug may be missed"),
			)
		}
	}
}

// observe forwards add and remove events for the watched node.
func (m *deviceMonitor) observe(ctx context.Context, uevent netlink.UEvent) {
	node := deviceNode(uevent)
	if node != m.device {
		if node != "" {
			m.logger.Debug("ignoring event for other device",
				logging.String("device", node),
				logging.String("action", string(uevent.Action)),
			)
		}
		return
	}

	var present bool
	switch uevent.Action {
	case netlink.ADD:
		present = true
	case netlink.REMOVE:
	default:
		return
	}
	m.logger.Info("capture device presence changed",
		logging.String(logging.FieldEventType, "device_"+string(uevent.Action)),
		logging.String("device", node),
		logging.Bool("present", present),
	)
	if m.notify != nil {
		m.notify(ctx, node, present)
	}
}

// deviceNode returns the /dev path for a uevent. Kernel events carry a bare
// DEVNAME and udev events the full path; DEVPATH is the fallback.
func deviceNode(uevent netlink.UEvent) string {
	name := strings.TrimSpace(uevent.Env["DEVNAME"])
	if name == "" {
		if devpath := strings.TrimSpace(uevent.Env["DEVPATH"]); devpath != "" {
			name = path.Base(devpath)
		}
	}
	switch {
	case name == "" || name == "/" || name == ".":
		return ""
	case strings.HasPrefix(name, "/"):
		return name
	default:
		return "/dev/" + name
	}
}
