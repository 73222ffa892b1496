package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/magiconair/properties"
)

// PropertiesParser reads Java-style .properties files. Dotted keys become
// nested configuration paths.
type PropertiesParser struct{}

// Properties returns a koanf parser for .properties files.
func Properties() *PropertiesParser {
	return &PropertiesParser{}
}

// Unmarshal parses the properties and unflattens their keys.
func (p *PropertiesParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	props, err := properties.Load(b, properties.UTF8)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]interface{}, props.Len())
	for key, value := range props.Map() {
		flat[key] = value
	}
	return maps.Unflatten(flat, "."), nil
}

// Marshal writes the map as properties with sorted keys.
func (p *PropertiesParser) Marshal(o map[string]interface{}) ([]byte, error) {
	flat, _ := maps.Flatten(o, nil, ".")
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	props := properties.NewProperties()
	for _, key := range keys {
		if _, _, err := props.Set(key, toString(flat[key])); err != nil {
			return nil, err
		}
	}
	return []byte(props.String()), nil
}

// toString renders a flattened value; lists become comma separated.
func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ",")
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}
