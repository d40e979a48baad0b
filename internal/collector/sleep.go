package collector

import (
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	logindInterface = "org.freedesktop.login1.Manager"
	prepareForSleep = logindInterface + ".PrepareForSleep"
)

// SleepMonitor listens for systemd-logind PrepareForSleep signals and
// reports each resume on Wake. Counter deltas across a suspend are
// meaningless, so the daemon resyncs the sampler when this fires.
type SleepMonitor struct {
	conn *dbus.Conn
	done chan struct{}
	wake chan struct{}
	log  *slog.Logger
}

// NewSleepMonitor creates a new sleep monitor connected to the system bus.
func NewSleepMonitor(logger *slog.Logger) (*SleepMonitor, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(logindInterface),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		return nil, err
	}

	m := &SleepMonitor{
		conn: conn,
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
		log:  logger,
	}
	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	go m.listen(ch)
	return m, nil
}

// Wake returns a channel that receives a value each time the system resumes.
// Pending wakes coalesce.
func (m *SleepMonitor) Wake() <-chan struct{} {
	return m.wake
}

// Close stops the monitor.
func (m *SleepMonitor) Close() {
	close(m.done)
}

func (m *SleepMonitor) listen(ch chan *dbus.Signal) {
	defer m.conn.RemoveSignal(ch)
	for {
		select {
		case sig := <-ch:
			if sig == nil || sig.Name != prepareForSleep || len(sig.Body) < 1 {
				continue
			}
			m.handle(sig.Body[0])
		case <-m.done:
			return
		}
	}
}

func (m *SleepMonitor) handle(arg any) {
	sleeping, ok := arg.(bool)
	if !ok {
		return
	}
	if sleeping {
		m.log.Info("system going to sleep")
		return
	}
	m.log.Info("system resumed")
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
