package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"

	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"

	"github.com/majorcontext/authprofiles/internal/migrate"
)

// profileRefPattern matches strings shaped like a profile ID.
var profileRefPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*:[A-Za-z0-9._@+-]+$`)

// ProfileRefs returns every string in an application YAML file that looks
// like a profile ID, in document order without duplicates. A missing file
// has no references.
func ProfileRefs(path string) ([]string, error) {
	root, err := readNode(path)
	if err != nil || root == nil {
		return nil, err
	}
	var refs []string
	walkScalars(root, func(n *yaml.Node) {
		if profileRefPattern.MatchString(n.Value) && !slices.Contains(refs, n.Value) {
			refs = append(refs, n.Value)
		}
	})
	return refs, nil
}

// PatchProfileRefs rewrites every scalar equal to from, keys included, to
// to. Comments survive; the file is replaced atomically with its original
// mode. It reports whether anything was rewritten.
func PatchProfileRefs(path, from, to string) (bool, error) {
	root, err := readNode(path)
	if err != nil || root == nil {
		return false, err
	}

	patched := false
	walkScalars(root, func(n *yaml.Node) {
		if n.Value == from {
			n.Value = to
			patched = true
		}
	})
	if !patched {
		return false, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return false, fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return false, fmt.Errorf("encoding %s: %w", path, err)
	}

	mode := os.FileMode(0600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := atomicwriter.WriteFile(path, buf.Bytes(), mode); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

// Patcher returns a migrate.ConfigPatcher for the YAML file at path.
func Patcher(path string) migrate.ConfigPatcher {
	return func(from, to string) (bool, error) {
		return PatchProfileRefs(path, from, to)
	}
}

func readNode(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if root.Kind == 0 {
		return nil, nil
	}
	return &root, nil
}

func walkScalars(n *yaml.Node, fn func(*yaml.Node)) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" {
		fn(n)
	}
	for _, c := range n.Content {
		walkScalars(c, fn)
	}
}
