package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CleanPath trims surrounding slashes and rejects empty segments.
func CleanPath(path string) (string, error) {
	p := strings.Trim(path, "/")
	if p == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return p, nil
}

func Join(segments ...string) string { return strings.Join(segments, "/") }

// Ancestors returns the proper ancestors of path, nearest first.
func Ancestors(path string) []string {
	var out []string
	for i := strings.LastIndex(path, "/"); i > 0; i = strings.LastIndex(path[:i], "/") {
		out = append(out, path[:i])
	}
	return out
}

// Related reports whether a write at one path can change the value at the
// other.
func Related(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func isNull(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Tree is a set of stored leaves keyed by clean path. A leaf never has
// another leaf as ancestor.
type Tree map[string]json.RawMessage

// Compose returns the value visible at path: the leaf itself, the matching
// part of an ancestor leaf, or an object assembled from descendant leaves.
func (t Tree) Compose(path string) (json.RawMessage, error) {
	if v, ok := t[path]; ok {
		return v, nil
	}

	for _, a := range Ancestors(path) {
		v, ok := t[a]
		if !ok {
			continue
		}
		return descend(v, strings.Split(path[len(a)+1:], "/"))
	}

	prefix := path + "/"
	root := map[string]any{}
	found := false
	for _, k := range sortedKeys(t) {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		found = true
		insert(root, strings.Split(k[len(prefix):], "/"), t[k])
	}
	if !found {
		return nil, nil
	}
	b, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("compose %s: %w", path, err)
	}
	return b, nil
}

// Shadowed reports whether path is held inside an ancestor leaf or exists
// only as a composite of descendant leaves.
func (t Tree) Shadowed(path string) bool {
	if _, ok := t[path]; ok {
		return false
	}
	for _, a := range Ancestors(path) {
		if _, ok := t[a]; ok {
			return true
		}
	}
	prefix := path + "/"
	for k := range t {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// Put replaces the leaf at path, dropping any descendant leaves. A null or
// empty value deletes it.
func (t Tree) Put(path string, value json.RawMessage) error {
	for _, a := range Ancestors(path) {
		if _, ok := t[a]; ok {
			return fmt.Errorf("%w: %s is inside %s", ErrNotLeaf, path, a)
		}
	}
	prefix := path + "/"
	for k := range t {
		if strings.HasPrefix(k, prefix) {
			delete(t, k)
		}
	}
	if isNull(value) {
		delete(t, path)
		return nil
	}
	t[path] = append(json.RawMessage(nil), value...)
	return nil
}

func descend(v json.RawMessage, segments []string) (json.RawMessage, error) {
	for _, seg := range segments {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err != nil || obj == nil {
			return nil, nil
		}
		next, ok := obj[seg]
		if !ok || isNull(next) {
			return nil, nil
		}
		v = next
	}
	return v, nil
}

func insert(node map[string]any, segments []string, v json.RawMessage) {
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = v
}
