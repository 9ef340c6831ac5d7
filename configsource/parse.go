package configsource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"

	"github.com/kbukum/discoverykit/errors"
)

// Format is the encoding of a remote document.
type Format string

const (
	FormatYAML       Format = "yaml"
	FormatJSON       Format = "json"
	FormatProperties Format = "properties"
)

// ParseFormat maps a config value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatYAML, "yml":
		return FormatYAML, nil
	case FormatJSON, FormatProperties:
		return f, nil
	}
	return "", errors.Configurationf("unsupported config format %q", s)
}

// Parse decodes data and returns its flattened properties. Empty documents
// return an empty map. Properties values stay strings.
func Parse(format Format, data []byte, source string) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	doc := make(map[string]any)
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatProperties:
		var p *properties.Properties
		if p, err = properties.Load(data, properties.UTF8); err == nil {
			for k, v := range p.Map() {
				doc[strings.ToLower(k)] = v
			}
			return doc, nil
		}
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, errors.Malformed(source, err).WithDetail("format", string(format))
	}
	return Flatten(doc), nil
}

// Flatten turns nested maps into dotted keys. Slices are kept as values.
func Flatten(doc map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]any, prefix string, value any) {
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 && prefix != "" {
			out[prefix] = v
		}
		for k, child := range v {
			flattenInto(out, join(prefix, k), child)
		}
	case map[any]any:
		for k, child := range v {
			flattenInto(out, join(prefix, fmt.Sprint(k)), child)
		}
	default:
		out[prefix] = v
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Expand turns dotted keys back into nested maps. Keys are visited in sorted
// order so a scalar and a nested key sharing a prefix resolve the same way
// on every run.
func Expand(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for _, key := range slices.Sorted(maps.Keys(flat)) {
		parts := strings.Split(key, ".")
		node := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = flat[key]
	}
	return out
}
