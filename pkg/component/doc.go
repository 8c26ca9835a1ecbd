// Package component provides the per-device component registry.
//
// A device registers its sensors, property server, and managers as named
// slots. Each slot holds either a pre-built instance or a factory that is
// invoked at most once, on first access:
//
//	reg := component.NewRegistry()
//	reg.Register("property-server", func(ctx context.Context, r component.Resolver) (any, error) {
//	    port, err := component.Get[*VendorPort](ctx, r, "vendor-port")
//	    if err != nil {
//	        return nil, err
//	    }
//	    return newServer(port), nil
//	}, false)
//
//	srv, err := component.Get[*Server](ctx, reg, "property-server")
//
// The context handed to a factory records the chain of slots under
// construction. Any request made with it, whether through the Resolver or
// through a registry the factory captured, fails with ErrCycle when it
// (directly or indirectly) asks for a slot on that chain instead of
// deadlocking.
//
// Concurrent first access to a slot results in exactly one factory call; all
// callers receive the same instance. A failed construction is not memoized:
// callers waiting on that attempt observe its error and a later access
// retries the factory.
package component
