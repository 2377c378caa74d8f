package asset

import (
	"fmt"
	"testing"
	"time"
)

func newAsset(id, typ, device string) *Asset {
	return &Asset{
		AssetID:    id,
		Type:       typ,
		DeviceUUID: device,
		Timestamp:  time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC),
		Raw:        fmt.Sprintf("<%s assetId=%q/>", typ, id),
	}
}

func TestStoreAddAndGet(t *testing.T) {
	s := NewStore(10)

	a := newAsset("0001", "Part", "000")
	if evicted := s.AddAsset(a); evicted != nil {
		t.Errorf("AddAsset() evicted %v, want nil", evicted)
	}

	if got := s.GetAsset("0001"); got != a {
		t.Errorf("GetAsset(0001) = %v, want the added asset", got)
	}
	if got := s.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestStoreUpsertKeepsOneEntry(t *testing.T) {
	s := NewStore(10)
	s.AddAsset(newAsset("0001", "Part", "000"))
	repl := newAsset("0001", "Part", "000")
	s.AddAsset(repl)

	if got := s.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1 after upsert", got)
	}
	if got := s.GetAsset("0001"); got != repl {
		t.Errorf("GetAsset(0001) = %v, want the replacement", got)
	}
}

func TestStoreEvictsLeastRecentlyUpdated(t *testing.T) {
	s := NewStore(3)
	for i := 1; i <= 3; i++ {
		s.AddAsset(newAsset(fmt.Sprintf("A%d", i), "Part", "000"))
	}

	// Touch A1 so A2 becomes the least recently updated.
	s.AddAsset(newAsset("A1", "Part", "000"))

	evicted := s.AddAsset(newAsset("A4", "Part", "000"))
	if evicted == nil || evicted.AssetID != "A2" {
		t.Fatalf("evicted = %v, want A2", evicted)
	}
	if s.GetAsset("A2") != nil {
		t.Error("A2 still present after eviction")
	}
	if got := s.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}

func TestStoreRemoveTombstones(t *testing.T) {
	s := NewStore(10)
	s.AddAsset(newAsset("0001", "Part", "000"))

	ts := time.Date(2021, 2, 1, 13, 0, 0, 0, time.UTC)
	removed := s.RemoveAsset("0001", ts)
	if removed == nil || !removed.Removed {
		t.Fatalf("RemoveAsset() = %v, want tombstoned asset", removed)
	}
	if !removed.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", removed.Timestamp, ts)
	}

	// The entry remains resolvable but is excluded from counts.
	if s.GetAsset("0001") == nil {
		t.Error("tombstoned asset no longer resolvable")
	}
	if got := s.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	if got := s.GetCountForDeviceAndType("000", "Part"); got != 0 {
		t.Errorf("GetCountForDeviceAndType() = %d, want 0", got)
	}

	// Removing again is a no-op.
	if again := s.RemoveAsset("0001", ts); again != nil {
		t.Errorf("second RemoveAsset() = %v, want nil", again)
	}
}

func TestStoreRemoveAll(t *testing.T) {
	s := NewStore(10)
	s.AddAsset(newAsset("P1", "Part", "000"))
	s.AddAsset(newAsset("P2", "Part", "000"))
	s.AddAsset(newAsset("T1", "Tool", "000"))
	s.AddAsset(newAsset("P3", "Part", "001"))

	ts := time.Now().UTC()
	removed := s.RemoveAll("000", "Part", nil, ts)
	if len(removed) != 2 {
		t.Fatalf("RemoveAll() removed %d, want 2", len(removed))
	}
	if got := s.GetCountForDeviceAndType("000", "Part"); got != 0 {
		t.Errorf("count for (000, Part) = %d, want 0", got)
	}
	if got := s.GetCountForDeviceAndType("000", "Tool"); got != 1 {
		t.Errorf("count for (000, Tool) = %d, want 1", got)
	}
	if got := s.GetCountForDeviceAndType("001", "Part"); got != 1 {
		t.Errorf("count for (001, Part) = %d, want 1", got)
	}
}

func TestStoreCountsByTypeForDevice(t *testing.T) {
	s := NewStore(10)
	s.AddAsset(newAsset("P1", "Part", "000"))
	s.AddAsset(newAsset("P2", "Part", "000"))
	s.AddAsset(newAsset("T1", "Tool", "000"))
	s.RemoveAsset("T1", time.Now().UTC())

	counts := s.GetCountsByTypeForDevice("000")
	if counts["Part"] != 2 {
		t.Errorf("counts[Part] = %d, want 2", counts["Part"])
	}
	if _, ok := counts["Tool"]; ok {
		t.Error("counts includes tombstoned Tool type")
	}

	// Tombstoned types still appear for removed-marker reporting.
	types := s.TypesForDevice("000")
	found := false
	for _, typ := range types {
		if typ == "Tool" {
			found = true
		}
	}
	if !found {
		t.Errorf("TypesForDevice() = %v, want to include Tool", types)
	}
}

func TestStoreAssetsOrderAndFilters(t *testing.T) {
	s := NewStore(10)
	s.AddAsset(newAsset("P1", "Part", "000"))
	s.AddAsset(newAsset("T1", "Tool", "000"))
	s.AddAsset(newAsset("P2", "Part", "000"))
	s.RemoveAsset("P1", time.Now().UTC())

	all := s.Assets("", "", false)
	if len(all) != 2 {
		t.Fatalf("Assets() = %d entries, want 2", len(all))
	}
	if all[0].AssetID != "P2" {
		t.Errorf("most recent = %s, want P2", all[0].AssetID)
	}

	withRemoved := s.Assets("000", "Part", true)
	if len(withRemoved) != 2 {
		t.Errorf("Assets(include removed) = %d entries, want 2", len(withRemoved))
	}
}

func TestParseAsset(t *testing.T) {
	fs := DefaultFactories()

	a, err := fs.Parse(`<Part assetId='1' deviceUuid='000'>TEST 1</Part>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.AssetID != "1" || a.Type != "Part" || a.DeviceUUID != "000" {
		t.Errorf("parsed = %+v", a)
	}
	if a.Payload != nil {
		t.Errorf("Payload = %v, want nil for unregistered type", a.Payload)
	}

	tool, err := fs.Parse(`<CuttingTool assetId="KSSP300R4SD43L240" toolId="KSSP300R4SD43L240" serialNumber="1"/>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	payload, ok := tool.Payload.(*CuttingTool)
	if !ok {
		t.Fatalf("Payload type = %T, want *CuttingTool", tool.Payload)
	}
	if payload.SerialNumber != "1" {
		t.Errorf("SerialNumber = %q, want 1", payload.SerialNumber)
	}

	// An id can come from the surrounding record instead of the payload.
	noID, err := fs.Parse(`<Part>no id</Part>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if noID.AssetID != "" {
		t.Errorf("AssetID = %q, want empty", noID.AssetID)
	}
	if _, err := fs.Parse(`garbage`); err == nil {
		t.Error("Parse() accepted non-XML input")
	}
}
