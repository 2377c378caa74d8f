package device

import (
	"errors"
	"testing"
)

func testDevice(id, name, uuid string) *Device {
	d := New(id, name, uuid)
	Verify(d, MustParseSchemaVersion(DefaultSchemaVersion))
	return d
}

func TestRegistryAdd(t *testing.T) {
	r := NewRegistry()

	d := testDevice("dev", "LinuxCNC", "000")
	if err := r.Add(d); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if got := r.ByUUID("000"); got != d {
		t.Errorf("ByUUID(000) = %v, want the added device", got)
	}
	if got := r.ByName("LinuxCNC"); got != d {
		t.Errorf("ByName(LinuxCNC) = %v, want the added device", got)
	}
}

func TestRegistryAddDuplicateUUID(t *testing.T) {
	r := NewRegistry()

	if err := r.Add(testDevice("dev1", "one", "000")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	err := r.Add(testDevice("dev2", "two", "000"))
	if !errors.Is(err, ErrDuplicateUUID) {
		t.Errorf("Add() error = %v, want ErrDuplicateUUID", err)
	}
}

func TestRegistryAddMissingIdentity(t *testing.T) {
	r := NewRegistry()

	if err := r.Add(New("dev", "name", "")); !errors.Is(err, ErrMissingUUID) {
		t.Errorf("Add() error = %v, want ErrMissingUUID", err)
	}
	if err := r.Add(New("dev", "", "000")); !errors.Is(err, ErrMissingName) {
		t.Errorf("Add() error = %v, want ErrMissingName", err)
	}
}

func TestRegistryFindByUUIDOrName(t *testing.T) {
	r := NewRegistry()
	agent := testDevice("agent", "Agent", "agent-uuid")
	agent.IsAgent = true
	d1 := testDevice("dev1", "mill", "000")
	d2 := testDevice("dev2", "lathe", "001")

	for _, d := range []*Device{agent, d1, d2} {
		if err := r.Add(d); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	tests := []struct {
		name string
		key  string
		want *Device
	}{
		{"by uuid", "001", d2},
		{"by name", "mill", d1},
		{"empty key returns default device", "", d1},
		{"unknown key", "nope", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.FindByUUIDOrName(tt.key); got != tt.want {
				t.Errorf("FindByUUIDOrName(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestRegistryDefaultDeviceSkipsAgent(t *testing.T) {
	r := NewRegistry()
	agent := testDevice("agent", "Agent", "agent-uuid")
	agent.IsAgent = true
	if err := r.Add(agent); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if got := r.DefaultDevice(); got != nil {
		t.Errorf("DefaultDevice() = %v, want nil with only the agent device", got)
	}

	d := testDevice("dev", "mill", "000")
	if err := r.Add(d); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got := r.DefaultDevice(); got != d {
		t.Errorf("DefaultDevice() = %v, want the non-agent device", got)
	}
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry()
	old := testDevice("dev", "mill", "000")
	if err := r.Add(old); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	repl := testDevice("dev", "mill", "000")
	if err := r.Replace(old, repl); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	if got := r.ByUUID("000"); got != repl {
		t.Errorf("ByUUID(000) = %v, want the replacement", got)
	}
	if got := r.Devices(); len(got) != 1 || got[0] != repl {
		t.Errorf("Devices() = %v, want only the replacement", got)
	}
}

func TestRegistryModifyUUID(t *testing.T) {
	r := NewRegistry()
	d := testDevice("dev", "mill", "000")
	if err := r.Add(d); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := r.ModifyUUID(d, "111"); err != nil {
		t.Fatalf("ModifyUUID() error = %v", err)
	}

	if r.ByUUID("000") != nil {
		t.Error("ByUUID(000) still resolves after ModifyUUID")
	}
	if got := r.ByUUID("111"); got != d {
		t.Errorf("ByUUID(111) = %v, want the device", got)
	}
	if d.UUID() != "111" {
		t.Errorf("UUID() = %q, want 111", d.UUID())
	}
}

func TestVerifyCreatesRequiredDataItems(t *testing.T) {
	tests := []struct {
		version      string
		wantChanged  bool
		wantRemoved  bool
		wantCount    bool
		wantDiscrete bool
	}{
		{"1.1", false, false, false, false},
		{"1.2", true, false, false, false},
		{"1.3", true, true, false, false},
		{"1.5", true, true, false, true},
		{"2.0", true, true, true, true},
		{"2.2", true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			d := New("dev", "mill", "000")
			Verify(d, MustParseSchemaVersion(tt.version))

			if d.Availability() == nil {
				t.Fatal("Availability() = nil, want created")
			}
			if got := d.Availability().ID; got != "dev_avail" {
				t.Errorf("availability id = %q, want dev_avail", got)
			}
			if got := d.AssetChanged() != nil; got != tt.wantChanged {
				t.Errorf("AssetChanged() present = %v, want %v", got, tt.wantChanged)
			}
			if got := d.AssetRemoved() != nil; got != tt.wantRemoved {
				t.Errorf("AssetRemoved() present = %v, want %v", got, tt.wantRemoved)
			}
			if got := d.AssetCount() != nil; got != tt.wantCount {
				t.Errorf("AssetCount() present = %v, want %v", got, tt.wantCount)
			}
			if tt.wantChanged {
				if got := d.AssetChanged().IsDiscrete(); got != tt.wantDiscrete {
					t.Errorf("AssetChanged discrete = %v, want %v", got, tt.wantDiscrete)
				}
			}
			if tt.wantCount {
				if got := d.AssetCount().Representation; got != RepresentationDataSet {
					t.Errorf("AssetCount representation = %v, want DATA_SET", got)
				}
			}

			// Verify is idempotent.
			before := len(d.DataItems())
			Verify(d, MustParseSchemaVersion(tt.version))
			if after := len(d.DataItems()); after != before {
				t.Errorf("second Verify added items: %d -> %d", before, after)
			}
		})
	}
}

func TestDeviceEqual(t *testing.T) {
	build := func() *Device {
		d := New("dev", "mill", "000")
		axes := d.AddComponent(nil, &Component{ID: "ax", Name: "Axes", Type: "Axes"})
		x := d.AddComponent(axes, &Component{ID: "x", Name: "X", Type: "Linear"})
		di := NewDataItem("xpos", "POSITION", CategorySample)
		di.SubType = "ACTUAL"
		x.AddDataItem(di)
		Verify(d, MustParseSchemaVersion("2.0"))
		return d
	}

	a, b := build(), build()
	if !a.Equal(b) {
		t.Error("identical devices compare unequal")
	}

	b.DataItemByID("xpos").SubType = "COMMANDED"
	if a.Equal(b) {
		t.Error("devices with differing data items compare equal")
	}
}
