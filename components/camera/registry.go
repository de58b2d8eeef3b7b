package camera

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/pcreg/depthcapture/config"
	"github.com/pcreg/depthcapture/logging"
)

// ConfigValidator is implemented by driver configs that can check themselves.
type ConfigValidator interface {
	Validate(path string) error
}

// Constructor opens a pipeline from a decoded driver config.
type Constructor[ConfigT any] func(ctx context.Context, conf *ConfigT, logger logging.Logger) (Pipeline, error)

type registration struct {
	construct func(ctx context.Context, attrs map[string]interface{}, logger logging.Logger) (Pipeline, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// RegisterDriver registers a camera driver under the given name. The driver's attributes are
// decoded into a ConfigT before the constructor runs. Registering the same name twice panics.
func RegisterDriver[ConfigT any](name string, ctor Constructor[ConfigT]) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, old := registry[name]; old {
		panic(errors.Errorf("trying to register two drivers with the same name: %q", name))
	}
	if ctor == nil {
		panic(errors.Errorf("cannot register a nil constructor for driver %q", name))
	}
	registry[name] = registration{
		construct: func(ctx context.Context, attrs map[string]interface{}, logger logging.Logger) (Pipeline, error) {
			conf := new(ConfigT)
			if err := config.DecodeAttributes(attrs, conf); err != nil {
				return nil, errors.Wrapf(err, "driver %q", name)
			}
			if v, ok := any(conf).(ConfigValidator); ok {
				if err := v.Validate("driver.attributes"); err != nil {
					return nil, err
				}
			}
			return ctor(ctx, conf, logger)
		},
	}
}

// NewPipeline opens a pipeline with the named driver.
func NewPipeline(ctx context.Context, name string, attrs map[string]interface{}, logger logging.Logger) (Pipeline, error) {
	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown camera driver %q, registered drivers: %v", name, RegisteredDrivers())
	}
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return reg.construct(ctx, attrs, logger.Sublogger(name))
}

// RegisteredDrivers returns the sorted names of all registered drivers.
func RegisteredDrivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
