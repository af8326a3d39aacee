package options

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// loadDocument reads one configuration document. Both YAML and JSON
// are accepted since YAML is a superset of JSON here.
func loadDocument(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file '%s'", path)
	}

	doc := map[interface{}]interface{}{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigConflictError{Reason: fmt.Sprintf("parsing config file '%s': %s", path, err)}
	}
	return normalizeMap(doc), nil
}

func parseJSONDocument(literal string) (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	if err := json.Unmarshal([]byte(literal), &doc); err != nil {
		return nil, &ConfigConflictError{Reason: fmt.Sprintf("parsing inline options: %s", err)}
	}
	return doc, nil
}

// mergeInto layers src over dst. Nested maps merge recursively, the
// backends list concatenates, and any other colliding key is replaced
// by the src value.
func mergeInto(dst, src map[string]interface{}) {
	for key, value := range src {
		existing, found := dst[key]
		if !found {
			dst[key] = normalizeValue(value)
			continue
		}

		if key == "backends" {
			dst[key] = append(toStringSlice(existing), toStringSlice(value)...)
			continue
		}

		dstMap, dstIsMap := asStringMap(existing)
		srcMap, srcIsMap := asStringMap(value)
		if dstIsMap && srcIsMap {
			mergeInto(dstMap, srcMap)
			dst[key] = dstMap
			continue
		}

		dst[key] = normalizeValue(value)
	}
}

func asStringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		return normalizeMap(m), true
	}
	return nil, false
}

// normalizeMap rewrites yaml.v2's interface-keyed maps with string
// keys, recursively, so documents from YAML and JSON sources merge
// and decode uniformly.
func normalizeMap(in map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		out[strings.TrimSpace(fmt.Sprint(key))] = normalizeValue(value)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		return normalizeMap(val)
	case map[string]interface{}:
		for key, item := range val {
			val[key] = normalizeValue(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeValue(item)
		}
		return val
	}
	return v
}
