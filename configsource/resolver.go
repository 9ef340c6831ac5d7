package configsource

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// Resolver looks keys up through an ordered chain of property sources and
// then the local defaults.
type Resolver struct {
	sources  []PropertySource
	defaults map[string]any
}

// NewResolver builds a resolver over sources, most specific first. defaults
// may be nested or flat; it is flattened.
func NewResolver(sources []PropertySource, defaults map[string]any) *Resolver {
	r := &Resolver{
		sources:  make([]PropertySource, 0, len(sources)),
		defaults: normalize(Flatten(defaults)),
	}
	for _, s := range sources {
		r.sources = append(r.sources, PropertySource{Name: s.Name, Properties: normalize(s.Properties)})
	}
	return r
}

func normalize(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Sources returns the remote property sources in lookup order.
func (r *Resolver) Sources() []PropertySource {
	return slices.Clone(r.sources)
}

// Get returns the first value for key. Keys are case-insensitive.
func (r *Resolver) Get(key string) (any, bool) {
	key = strings.ToLower(key)
	for _, s := range r.sources {
		if v, ok := s.Properties[key]; ok {
			return v, true
		}
	}
	v, ok := r.defaults[key]
	return v, ok
}

// GetString is Get formatted as a string.
func (r *Resolver) GetString(key string) (string, bool) {
	v, ok := r.Get(key)
	if !ok {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Origin names the property source holding key, or "defaults".
func (r *Resolver) Origin(key string) (string, bool) {
	key = strings.ToLower(key)
	for _, s := range r.sources {
		if _, ok := s.Properties[key]; ok {
			return s.Name, true
		}
	}
	if _, ok := r.defaults[key]; ok {
		return "defaults", true
	}
	return "", false
}

// Keys returns every known key, sorted.
func (r *Resolver) Keys() []string {
	seen := maps.Clone(r.defaults)
	for _, s := range r.sources {
		for k := range s.Properties {
			seen[k] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// MergeInto layers sources over the configuration already held by v. The
// least specific source is merged first so the most specific wins; keys no
// source defines keep their local value.
func MergeInto(v *viper.Viper, sources []PropertySource) error {
	for i := len(sources) - 1; i >= 0; i-- {
		if len(sources[i].Properties) == 0 {
			continue
		}
		if err := v.MergeConfigMap(Expand(sources[i].Properties)); err != nil {
			return fmt.Errorf("configsource: merge %s: %w", sources[i].Name, err)
		}
	}
	return nil
}
