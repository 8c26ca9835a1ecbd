package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore(t *testing.T) {
	t.Run("SaveAndLoadEmpty", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "state.json"))

		if err := store.Save(&DeviceState{Serial: "SN1"}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.Version != StateVersion {
			t.Errorf("Version = %d, want %d", got.Version, StateVersion)
		}
		if got.SavedAt.IsZero() {
			t.Error("SavedAt not set")
		}
		if got.Serial != "SN1" {
			t.Errorf("Serial = %q", got.Serial)
		}
	})

	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "nonexistent.json"))

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() = %v, want nil for non-existent file", got)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "nested", "state.json"))

		saved := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
		state := &DeviceState{
			SavedAt:  saved,
			Serial:   "CP1234",
			Model:    "G330",
			Firmware: "1.4.60",
			SyncConfig: &SyncConfigState{
				Mode:             "SECONDARY_SYNCED",
				ColorDelayUsec:   120,
				TriggerOutEnable: true,
				FramesPerTrigger: 1,
			},
			SoftwareProperties: map[string]float64{
				"SDK_GLOBAL_TIMESTAMP_ENABLE_BOOL": 1,
				"DEPTH_MIRROR_BOOL":                0,
			},
		}
		if err := store.Save(state); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !got.SavedAt.Equal(saved) {
			t.Errorf("SavedAt = %v, want %v", got.SavedAt, saved)
		}
		if got.SyncConfig == nil || got.SyncConfig.Mode != "SECONDARY_SYNCED" || got.SyncConfig.ColorDelayUsec != 120 || !got.SyncConfig.TriggerOutEnable {
			t.Errorf("SyncConfig = %+v", got.SyncConfig)
		}
		if len(got.SoftwareProperties) != 2 || got.SoftwareProperties["SDK_GLOBAL_TIMESTAMP_ENABLE_BOOL"] != 1 {
			t.Errorf("SoftwareProperties = %v", got.SoftwareProperties)
		}
	})

	t.Run("SaveLeavesNoTempFiles", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStore(filepath.Join(dir, "state.json"))
		for i := 0; i < 3; i++ {
			if err := store.Save(&DeviceState{Serial: "SN"}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("dir has %d entries, want 1", len(entries))
		}
	})

	t.Run("RejectsNewerVersion", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		if err := os.WriteFile(path, []byte(`{"version": 99, "serial": "x"}`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewStore(path).Load(); err == nil {
			t.Error("expected error for newer version")
		}
	})

	t.Run("CorruptFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewStore(path).Load(); err == nil {
			t.Error("expected error for corrupt file")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "state.json"))
		if err := store.Save(&DeviceState{}); err != nil {
			t.Fatal(err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if got, _ := store.Load(); got != nil {
			t.Error("state still present after Clear")
		}
		if err := store.Clear(); err != nil {
			t.Errorf("second Clear() error = %v", err)
		}
	})
}
