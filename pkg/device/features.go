package device

import (
	"context"

	"github.com/depthkit/devcore/pkg/component"
	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/timestamp"
)

// registerProperties fills srv from the manifest rows enabled for the
// device firmware, then adds aliases and access callbacks. Vendor-backed
// rows resolve the vendor accessor through r on first access.
func (d *Device) registerProperties(srv *property.Server, r component.Resolver) error {
	vendor := property.NewLazyAccessor(func(ctx context.Context) (property.Accessor, error) {
		a, err := component.Get[*property.VendorAccessor](ctx, r, VendorAccessorID)
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	globalTs := property.NewFilterStateAccessor(d.globalTimestampEnabled, d.setGlobalTimestampEnabled)

	fw := d.info.Firmware
	for _, p := range d.manifest.PropertiesFor(fw) {
		id := p.ID()
		var acc property.Accessor
		switch p.Accessor {
		case AccessorVendor:
			acc = vendor
		case AccessorSDK:
			d.sdk.Define(id, p.PropertyRange())
			acc = d.sdk
		case AccessorGlobalTimestamp:
			acc = globalTs
		}
		if err := srv.RegisterProperty(id, p.User, p.Internal, acc); err != nil {
			return err
		}
	}

	for _, a := range d.manifest.Aliases {
		alias, _ := property.ParseID(a.Alias)
		target, _ := property.ParseID(a.Target)
		var err error
		if a.User != nil || a.Internal != nil {
			err = srv.AliasPropertyWithPermission(alias, target, deref(a.User), deref(a.Internal))
		} else {
			err = srv.AliasProperty(alias, target)
		}
		if err != nil {
			return err
		}
	}

	for _, c := range d.manifest.CallbacksFor(fw) {
		ids, _ := c.ids()
		srv.RegisterAccessCallback(ids, d.accessCallback(c))
	}

	d.debugLog("properties registered", "model", d.manifest.Name, "firmware", fw.String(),
		"count", len(srv.Properties(property.AccessInternal)))
	return nil
}

// accessCallback runs the action of c for matching operations.
func (d *Device) accessCallback(c CallbackSpec) property.AccessCallback {
	want, _ := c.op()
	return func(ctx context.Context, id property.ID, op property.Op) error {
		if op != want {
			return nil
		}
		switch c.Action {
		case ActionRefreshExtensionInfo:
			return d.refreshExtensionInfo(ctx)
		case ActionResetClockFit:
			// A fitter that was never built has nothing to reset.
			if !d.registry.IsConstructed(GlobalFitterID) {
				return nil
			}
			f, err := d.GlobalFitter()
			if err != nil {
				return err
			}
			f.Reset()
			f.RequestRefit()
		}
		return nil
	}
}

// globalTimestampEnabled backs SDK_GLOBAL_TIMESTAMP_ENABLE_BOOL reads.
func (d *Device) globalTimestampEnabled() bool {
	f, err := d.GlobalFitter()
	if err != nil {
		return false
	}
	return f.Enabled()
}

// setGlobalTimestampEnabled backs SDK_GLOBAL_TIMESTAMP_ENABLE_BOOL writes.
func (d *Device) setGlobalTimestampEnabled(on bool) error {
	f, err := d.GlobalFitter()
	if err != nil {
		return fault.New(fault.KindUnsupportedOperation, "SetGlobalTimestamp", property.SDKGlobalTimestampEnableBool.String(), err)
	}
	return f.SetEnabled(on)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ timestamp.ModelSource = (*timestamp.GlobalFitter)(nil)
