package collector

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setTestSysfsRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	oldRoot := sysfsRoot
	sysfsRoot = root
	t.Cleanup(func() {
		sysfsRoot = oldRoot
	})

	return root
}

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeUevent(t *testing.T, root string, lines ...string) {
	t.Helper()
	writeTestFile(t, filepath.Join(root, "class/power_supply/BAT0/uevent"), strings.Join(append(lines, ""), "\n"))
}

func TestCollectBattery_ParsesUevent(t *testing.T) {
	root := setTestSysfsRoot(t)
	writeUevent(t, root,
		"POWER_SUPPLY_STATUS=Discharging",
		"POWER_SUPPLY_CAPACITY=61",
	)

	b, err := CollectBattery()
	if err != nil {
		t.Fatalf("CollectBattery() error = %v", err)
	}
	if b.Percent != 61 {
		t.Fatalf("Percent = %v, want 61", b.Percent)
	}
	if b.Status != "Discharging" {
		t.Fatalf("Status = %q, want Discharging", b.Status)
	}
	if b.Plugged == nil || *b.Plugged {
		t.Fatalf("Plugged = %v, want false", b.Plugged)
	}
}

func TestCollectBattery_NoBattery(t *testing.T) {
	setTestSysfsRoot(t)

	_, err := CollectBattery()
	if !errors.Is(err, ErrNoBattery) {
		t.Fatalf("CollectBattery() error = %v, want ErrNoBattery", err)
	}
}

func TestCollectBattery_EnergyFallback(t *testing.T) {
	root := setTestSysfsRoot(t)
	writeUevent(t, root,
		"POWER_SUPPLY_STATUS=Charging",
		"POWER_SUPPLY_ENERGY_NOW=25000000",
		"POWER_SUPPLY_ENERGY_FULL=50000000",
	)

	b, err := CollectBattery()
	if err != nil {
		t.Fatalf("CollectBattery() error = %v", err)
	}
	if b.Percent != 50 {
		t.Fatalf("Percent = %v, want 50", b.Percent)
	}
	if b.Plugged == nil || !*b.Plugged {
		t.Fatalf("Plugged = %v, want true", b.Plugged)
	}
}

func TestCollectBattery_FallbackClampsWornCell(t *testing.T) {
	root := setTestSysfsRoot(t)
	writeUevent(t, root,
		"POWER_SUPPLY_STATUS=Discharging",
		"POWER_SUPPLY_ENERGY_NOW=51500000",
		"POWER_SUPPLY_ENERGY_FULL=50000000",
	)

	b, err := CollectBattery()
	if err != nil {
		t.Fatalf("CollectBattery() error = %v", err)
	}
	if b.Percent != 100 {
		t.Fatalf("Percent = %v, want 100", b.Percent)
	}

	r := &Reading{Timestamp: time.Now(), CPUPercent: 40, MemoryPercent: 30, Battery: b}
	if err := Validate(r); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestCollectBattery_NoCapacityIsError(t *testing.T) {
	root := setTestSysfsRoot(t)
	writeUevent(t, root, "POWER_SUPPLY_STATUS=Discharging")

	_, err := CollectBattery()
	if err == nil || errors.Is(err, ErrNoBattery) {
		t.Fatalf("CollectBattery() error = %v, want read failure", err)
	}
}

func TestCollectBattery_UnknownStatusLeavesPluggedNil(t *testing.T) {
	root := setTestSysfsRoot(t)
	writeUevent(t, root,
		"POWER_SUPPLY_STATUS=Unknown",
		"POWER_SUPPLY_CAPACITY=80",
	)

	b, err := CollectBattery()
	if err != nil {
		t.Fatalf("CollectBattery() error = %v", err)
	}
	if b.Plugged != nil {
		t.Fatalf("Plugged = %v, want nil", *b.Plugged)
	}
}

func TestCollectBattery_ACAdapterIsAuthoritative(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		capacity   string
		online     string
		wantPlug   bool
		wantStatus string
	}{
		{"discharging at full on AC", "Discharging", "100", "1", true, "Full"},
		{"not charging off AC", "Not charging", "80", "0", false, "Not charging"},
		{"charging on AC", "Charging", "40", "1", true, "Charging"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := setTestSysfsRoot(t)
			writeUevent(t, root,
				"POWER_SUPPLY_STATUS="+tt.status,
				"POWER_SUPPLY_CAPACITY="+tt.capacity,
			)
			writeTestFile(t, filepath.Join(root, "class/power_supply/AC/online"), tt.online+"\n")

			b, err := CollectBattery()
			if err != nil {
				t.Fatalf("CollectBattery() error = %v", err)
			}
			if b.Plugged == nil || *b.Plugged != tt.wantPlug {
				t.Fatalf("Plugged = %v, want %v", b.Plugged, tt.wantPlug)
			}
			if b.Status != tt.wantStatus {
				t.Fatalf("Status = %q, want %q", b.Status, tt.wantStatus)
			}
		})
	}
}

func TestACOnline_ADPName(t *testing.T) {
	root := setTestSysfsRoot(t)
	writeTestFile(t, filepath.Join(root, "class/power_supply/ADP1/online"), "1\n")

	online, known := acOnline()
	if !known || !online {
		t.Fatalf("acOnline() = (%v, %v), want (true, true)", online, known)
	}
}

func TestParseUevent(t *testing.T) {
	props := parseUevent("A=1\nB=two=2\n\nnoequals\n")
	if props["A"] != "1" {
		t.Fatalf("A = %q, want 1", props["A"])
	}
	if props["B"] != "two=2" {
		t.Fatalf("B = %q, want two=2", props["B"])
	}
	if len(props) != 2 {
		t.Fatalf("len(props) = %d, want 2", len(props))
	}
}
