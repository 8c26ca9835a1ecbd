// Package syncconfig holds a device's multi-device synchronization mode.
//
// A Configurator validates requested modes against the device model's
// whitelist and publishes the active Config. Readers on the frame path
// (anomaly detection, timestamp calculators) call Mode, which never blocks:
//
//	cfgr := syncconfig.New(backend, syncconfig.NewModeSet(syncconfig.ModeFreeRun, syncconfig.ModePrimary))
//	if err := cfgr.SetSyncConfig(ctx, syncconfig.Config{Mode: syncconfig.ModePrimary}); err != nil {
//	    // fault.ErrUnsupportedMode when the model lacks the mode
//	}
//
// Writes are serialized. The owning device refuses writes while a sensor
// streams; the Configurator does not track stream state itself.
package syncconfig
