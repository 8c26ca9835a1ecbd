package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/persistence"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/syncconfig"
)

// State returns the persistable device state: SDK-side property values and
// the sync configuration once it is known.
func (d *Device) State() *persistence.DeviceState {
	st := &persistence.DeviceState{
		Serial:             d.info.Serial,
		Model:              d.manifest.Name,
		Firmware:           d.info.Firmware.String(),
		SoftwareProperties: make(map[string]float64),
	}
	for id, v := range d.sdk.Snapshot() {
		st.SoftwareProperties[id.String()] = v.Number(id.Type())
	}
	if d.registry.IsConstructed(GlobalFitterID) {
		if f, err := d.GlobalFitter(); err == nil {
			st.SoftwareProperties[property.SDKGlobalTimestampEnableBool.String()] = boolFloat(f.Enabled())
		}
	}
	if d.registry.IsConstructed(SyncConfiguratorID) {
		if sc, err := d.SyncConfigurator(); err == nil && sc.Loaded() {
			cfg := sc.SyncConfig()
			st.SyncConfig = &persistence.SyncConfigState{
				Mode:                    cfg.Mode.String(),
				DepthDelayUsec:          cfg.DepthDelayUsec,
				ColorDelayUsec:          cfg.ColorDelayUsec,
				TriggerToImageDelayUsec: cfg.TriggerToImageDelayUsec,
				TriggerOutEnable:        cfg.TriggerOutEnable,
				TriggerOutDelayUsec:     cfg.TriggerOutDelayUsec,
				FramesPerTrigger:        cfg.FramesPerTrigger,
			}
		}
	}
	return st
}

// SaveState writes State to the configured state file.
func (d *Device) SaveState() error {
	if d.store == nil {
		return fault.Configf("SaveState", d.info.Serial, "no state path configured")
	}
	if err := d.store.Save(d.State()); err != nil {
		return fault.New(fault.KindTransientIO, "SaveState", d.store.Path(), err)
	}
	d.debugLog("state saved", "path", d.store.Path())
	return nil
}

// RestoreState loads the state file and applies it. A missing file is not
// an error. Every entry is attempted; failures are joined.
func (d *Device) RestoreState(ctx context.Context) error {
	if d.store == nil {
		return fault.Configf("RestoreState", d.info.Serial, "no state path configured")
	}
	st, err := d.store.Load()
	if err != nil {
		return fault.New(fault.KindConfiguration, "RestoreState", d.store.Path(), err)
	}
	if st == nil {
		return nil
	}
	return d.ApplyState(ctx, st)
}

// ApplyState applies a saved state to the device.
func (d *Device) ApplyState(ctx context.Context, st *persistence.DeviceState) error {
	if st.Serial != "" && st.Serial != d.info.Serial {
		return fault.Configf("ApplyState", d.info.Serial, "state belongs to device %s", st.Serial)
	}
	srv, err := d.PropertyServer()
	if err != nil {
		return err
	}

	var errs []error
	for name, v := range st.SoftwareProperties {
		id, err := property.ParseID(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := property.SetValue(ctx, srv, id, v, property.AccessInternal); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", name, err))
		}
	}

	if s := st.SyncConfig; s != nil {
		mode, err := syncconfig.ParseMode(s.Mode)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg := syncconfig.Config{
				Mode:                    mode,
				DepthDelayUsec:          s.DepthDelayUsec,
				ColorDelayUsec:          s.ColorDelayUsec,
				TriggerToImageDelayUsec: s.TriggerToImageDelayUsec,
				TriggerOutEnable:        s.TriggerOutEnable,
				TriggerOutDelayUsec:     s.TriggerOutDelayUsec,
				FramesPerTrigger:        s.FramesPerTrigger,
			}
			if err := d.SetSyncConfig(ctx, cfg); err != nil {
				errs = append(errs, fmt.Errorf("restore sync config: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
