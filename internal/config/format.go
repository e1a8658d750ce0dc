package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type fileFormat string

const (
	formatJSON fileFormat = "json"
	formatYAML fileFormat = "yaml"
)

func formatOf(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// toJSON returns data as JSON so both formats go through the same strict
// decoder. A YAML file must hold exactly one document; an empty one is an
// empty config.
func toJSON(path string, data []byte) ([]byte, fileFormat, error) {
	f := formatOf(path)
	if f == formatJSON {
		return data, f, nil
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	var doc any
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, f, fmt.Errorf("yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, f, errors.New("yaml: multiple documents in one config file")
		}
		return nil, f, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return []byte("{}"), f, nil
	}

	j, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, f, fmt.Errorf("yaml to json: %w", err)
	}
	return j, f, nil
}

// stringKeys rewrites non-string mapping keys (yaml allows `1: x`) so the
// tree can be marshaled as JSON.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
