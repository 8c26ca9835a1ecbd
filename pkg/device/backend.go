package device

import (
	"context"

	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/syncconfig"
)

// syncBackend stores the sync configuration in MULTI_DEVICE_SYNC_CONFIG.
type syncBackend struct {
	server *property.Server
}

func (b syncBackend) ReadSyncConfig(ctx context.Context) (syncconfig.Config, error) {
	return property.GetStructure[syncconfig.Config](ctx, b.server, property.MultiDeviceSyncConfigStruct, property.AccessInternal)
}

func (b syncBackend) WriteSyncConfig(ctx context.Context, cfg syncconfig.Config) error {
	return property.SetStructure(ctx, b.server, property.MultiDeviceSyncConfigStruct, cfg, property.AccessInternal)
}

func (b syncBackend) TriggerCapture(ctx context.Context) error {
	return property.SetValue(ctx, b.server, property.CaptureImageSignalBool, true, property.AccessInternal)
}

var _ syncconfig.Backend = syncBackend{}
