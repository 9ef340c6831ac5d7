package configsource

import (
	"context"
	"sort"
	"sync"

	"github.com/kbukum/discoverykit/errors"
	"github.com/kbukum/discoverykit/logger"
)

// PropertySource is one named document of flattened, dotted keys.
type PropertySource struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
}

// Source fetches the configuration of an application from a remote store.
// Results are ordered most specific first. Missing configuration yields an
// empty slice and a nil error.
type Source interface {
	Name() string
	Fetch(ctx context.Context, application string, profiles []string) ([]PropertySource, error)
}

// SourceFactory creates a Source from the shared Config and a provider
// specific configuration value.
type SourceFactory func(cfg Config, providerCfg any, log *logger.Logger) (Source, error)

var (
	factoriesMu     sync.RWMutex
	sourceFactories = make(map[string]SourceFactory)
)

// RegisterSourceFactory makes a source available under name. Source packages
// call it from init.
func RegisterSourceFactory(name string, f SourceFactory) {
	factoriesMu.Lock()
	sourceFactories[name] = f
	factoriesMu.Unlock()
}

// Providers lists the registered source names.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(sourceFactories))
	for name := range sourceFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSource builds the source selected by cfg.Provider.
func NewSource(cfg Config, providerCfg any, log *logger.Logger) (Source, error) {
	factoriesMu.RLock()
	f, ok := sourceFactories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errors.Configurationf("unsupported config source %q (not registered)", cfg.Provider)
	}
	src, err := f(cfg, providerCfg, log)
	if err != nil {
		if errors.IsConfiguration(err) {
			return nil, err
		}
		return nil, errors.Configurationf("config source %s: %v", cfg.Provider, err).WithCause(err)
	}
	return src, nil
}

// LookupNames returns the document names probed for application, most
// specific first: "<app>,<profile>" and "application,<profile>" for each
// profile (last profile wins), then "<app>" and "application". sep joins the
// name and the profile.
func LookupNames(application string, profiles []string, sep string) []string {
	var names []string
	for i := len(profiles) - 1; i >= 0; i-- {
		p := profiles[i]
		if p == "" {
			continue
		}
		if application != "" && application != SharedName {
			names = append(names, application+sep+p)
		}
		names = append(names, SharedName+sep+p)
	}
	if application != "" && application != SharedName {
		names = append(names, application)
	}
	return append(names, SharedName)
}

// SharedName is the document shared by every application.
const SharedName = "application"
