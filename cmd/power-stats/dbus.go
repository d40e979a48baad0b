package main

import (
	"encoding/json"
	"fmt"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/cptspacemanspiff/power-draw-monitor/internal/analyzer"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/collector"
	pmdbus "github.com/cptspacemanspiff/power-draw-monitor/internal/dbus"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/query"
	"github.com/cptspacemanspiff/power-draw-monitor/internal/storage"
)

type dbusClient struct {
	conn *godbus.Conn
	obj  godbus.BusObject
}

func newDBusClient(bus string) (*dbusClient, error) {
	var (
		conn *godbus.Conn
		err  error
	)
	switch bus {
	case "system":
		conn, err = godbus.SystemBus()
	case "session":
		conn, err = godbus.SessionBus()
	default:
		return nil, fmt.Errorf("unknown bus %q, want system or session", bus)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", bus, err)
	}
	obj := conn.Object(pmdbus.BusName, pmdbus.ObjPath)
	return &dbusClient{conn: conn, obj: obj}, nil
}

// call invokes method and returns its JSON reply.
func (c *dbusClient) call(method string, args ...any) (string, error) {
	var jsonStr string
	err := c.obj.Call(pmdbus.IfaceName+"."+method, 0, args...).Store(&jsonStr)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	return jsonStr, nil
}

func (c *dbusClient) GetCurrentStats() (*query.Current, error) {
	jsonStr, err := c.call("GetCurrentStats")
	if err != nil {
		return nil, err
	}
	var cur query.Current
	if err := json.Unmarshal([]byte(jsonStr), &cur); err != nil {
		return nil, err
	}
	return &cur, nil
}

func (c *dbusClient) GetRecent(n int) ([]collector.Sample, error) {
	jsonStr, err := c.call("GetRecent", int32(n))
	if err != nil {
		return nil, err
	}
	var samples []collector.Sample
	if err := json.Unmarshal([]byte(jsonStr), &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (c *dbusClient) GetEvents(from, to time.Time) ([]analyzer.HighPowerEvent, error) {
	jsonStr, err := c.call("GetEvents", from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	var events []analyzer.HighPowerEvent
	if err := json.Unmarshal([]byte(jsonStr), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *dbusClient) GetDatabaseStats() (*storage.Stats, error) {
	jsonStr, err := c.call("GetDatabaseStats")
	if err != nil {
		return nil, err
	}
	var st storage.Stats
	if err := json.Unmarshal([]byte(jsonStr), &st); err != nil {
		return nil, err
	}
	return &st, nil
}
