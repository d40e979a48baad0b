package dbus

import (
	"encoding/json"
	"fmt"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/analyzer"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/query"
)

const (
	BusName   = "org.gnome.PowerMonitor"
	ObjPath   = "/org/gnome/PowerMonitor"
	IfaceName = "org.gnome.PowerMonitor"

	// EventSignal carries (phase, event JSON) whenever an episode opens or
	// is finalized.
	EventSignal = IfaceName + ".HighPowerEvent"
)

const introspectXML = `
<node>
  <interface name="` + IfaceName + `">
    <method name="GetCurrentStats">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetHistory">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetRecent">
      <arg direction="in" type="i" name="n"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetEvents">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetDatabaseStats">
      <arg direction="out" type="s" name="json"/>
    </method>
    <signal name="HighPowerEvent">
      <arg type="s" name="phase"/>
      <arg type="s" name="json"/>
    </signal>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// Service exposes the power monitor over D-Bus.
type Service struct {
	q    *query.Service
	conn *godbus.Conn
}

// NewService creates a new D-Bus service.
func NewService(q *query.Service) *Service {
	return &Service{q: q}
}

// Export registers the service on conn and claims the bus name.
func (s *Service) Export(conn *godbus.Conn) error {
	if err := conn.Export(s, ObjPath, IfaceName); err != nil {
		return fmt.Errorf("export service: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", BusName)
	}

	s.conn = conn
	return nil
}

// GetCurrentStats returns the latest sample, rolling average, time
// remaining and any open episode as JSON.
func (s *Service) GetCurrentStats() (string, *godbus.Error) {
	cur, err := s.q.Current()
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(cur)
}

// GetHistory returns samples in a time range as JSON.
func (s *Service) GetHistory(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	samples, err := s.q.History(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(samples)
}

// GetRecent returns the last n samples as JSON, oldest first.
func (s *Service) GetRecent(n int32) (string, *godbus.Error) {
	samples, err := s.q.Recent(int(n))
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(samples)
}

// GetEvents returns high power events overlapping a time range as JSON.
func (s *Service) GetEvents(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	events, err := s.q.Events(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(events)
}

// GetDatabaseStats returns row counts and file size as JSON.
func (s *Service) GetDatabaseStats() (string, *godbus.Error) {
	st, err := s.q.DatabaseStats()
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(st)
}

// EmitEvent broadcasts an episode transition. It is a no-op before Export.
func (s *Service) EmitEvent(e analyzer.HighPowerEvent, phase analyzer.Phase) error {
	if s.conn == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.conn.Emit(ObjPath, EventSignal, phase.String(), string(data))
}

func marshal(v any) (string, *godbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}
