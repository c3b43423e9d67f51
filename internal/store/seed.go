package store

import (
	"context"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// collections are stored one leaf per record; everything else in a seed is
// stored as a single leaf.
var collections = map[string]bool{
	PathTeams:       true,
	PathStations:    true,
	PathSubmissions: true,
	PathAccessLogs:  true,
}

// SeedFile loads a YAML seed document and applies it with Seed.
func SeedFile(ctx context.Context, st Store, path string, logger *zap.Logger) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed %s: %w", path, err)
	}
	return Seed(ctx, st, b, logger)
}

// Seed writes every top-level node of the YAML document that does not exist
// remotely yet. Existing nodes are never touched.
func Seed(ctx context.Context, st Store, doc []byte, logger *zap.Logger) error {
	var top map[string]any
	if err := yaml.Unmarshal(doc, &top); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}

	for _, name := range sortedKeys(top) {
		current, err := st.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		if current.Exists() {
			logger.Debug("seed skipped, node exists", zap.String("path", name))
			continue
		}

		value := jsonCompatible(top[name])
		children, ok := value.(map[string]any)
		if !collections[name] || !ok {
			if err := st.Set(ctx, name, value); err != nil {
				return fmt.Errorf("seed %s: %w", name, err)
			}
			logger.Info("seeded node", zap.String("path", name))
			continue
		}

		for _, k := range sortedKeys(children) {
			if err := st.Set(ctx, Join(name, k), children[k]); err != nil {
				return fmt.Errorf("seed %s/%s: %w", name, k, err)
			}
		}
		logger.Info("seeded collection", zap.String("path", name), zap.Int("records", len(children)))
	}
	return nil
}

// jsonCompatible rewrites YAML maps with non-string keys (station ids like
// `1:`) into string-keyed maps.
func jsonCompatible(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = jsonCompatible(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = jsonCompatible(val)
		}
		return out
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
