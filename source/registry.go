package source

import "fmt"

// Registry resolves a Kind to the Driver that serves it. This is the
// "small table of function pointers or an interface with the capability
// set" prescribed by spec §9 for replacing a class hierarchy over
// Source/Description.
type Registry struct {
	drivers map[Kind]Driver
}

// NewRegistry builds an empty registry; callers register drivers with
// Register before use.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[Kind]Driver)}
}

// Register installs d as the driver for its Kind, replacing any previous
// registration.
func (r *Registry) Register(d Driver) {
	r.drivers[d.Kind()] = d
}

// For returns the driver registered for k, or an error if none was
// registered — this should only happen for a misconfigured Registry, since
// every Kind a PackageRef can carry must have a driver bound at startup.
func (r *Registry) For(k Kind) (Driver, error) {
	d, ok := r.drivers[k]
	if !ok {
		return nil, fmt.Errorf("no source driver registered for kind %s", k)
	}
	return d, nil
}

// DriverFor is a convenience wrapper around For(ref.Description.Kind).
func (r *Registry) DriverFor(ref PackageRef) (Driver, error) {
	return r.For(ref.Description.Kind)
}
