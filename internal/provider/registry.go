package provider

import (
	"fmt"
	"sort"

	"github.com/vitalloop/vitalloop-worker/internal/config"
)

// Registry maps provider ids to driver instances. It is constructed once at
// process start and injected into every component that needs driver lookup.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry builds the registry from process configuration.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{drivers: make(map[string]Driver)}

	r.register(NewFitbitDriver(cfg.FitbitClientID, cfg.FitbitClientSecret))
	r.register(NewDexcomDriver(cfg.DexcomClientID, cfg.DexcomClientSecret))
	r.register(NewTerraDriver(cfg.TerraDevID, cfg.TerraAPIKey, cfg.TerraSigningSecret))
	r.register(NewGoogleFitDriver(cfg.GoogleClientID, cfg.GoogleClientSecret))

	// Scaffolds: registered for interface completeness, fail fast when used
	r.register(newScaffoldDriver(Strava))
	r.register(newScaffoldDriver(Whoop))

	return r
}

func (r *Registry) register(d Driver) {
	r.drivers[d.ID()] = d
}

// Get returns the driver for a provider id, or ErrUnknownProvider.
func (r *Registry) Get(id string) (Driver, error) {
	d, ok := r.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return d, nil
}

// IsImplemented reports whether the provider has a fully wired driver as
// opposed to a scaffold.
func (r *Registry) IsImplemented(id string) bool {
	d, ok := r.drivers[id]
	if !ok {
		return false
	}
	_, scaffold := d.(*scaffoldDriver)
	return !scaffold
}

// Implemented returns the sorted ids of all fully wired providers.
func (r *Registry) Implemented() []string {
	var ids []string
	for id := range r.drivers {
		if r.IsImplemented(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
