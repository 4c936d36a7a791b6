// Package seeds loads the starting accounts for a crawl from YAML files and
// inline configuration.
package seeds

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

type seedsDocument struct {
	Seeds []string `yaml:"seeds"`
}

// LoadFile reads seeds from a YAML file holding either a bare list of
// usernames or a mapping with a seeds key.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seeds file %q: %w", path, err)
	}
	out, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse seeds file %q: %w", path, err)
	}
	return out, nil
}

// Parse decodes a seeds YAML document. An empty document yields no seeds.
func Parse(data []byte) ([]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, nil
	}

	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	case yaml.MappingNode:
		var doc seedsDocument
		if err := node.Decode(&doc); err != nil {
			return nil, err
		}
		return doc.Seeds, nil
	default:
		return nil, fmt.Errorf("expected a list or a mapping with a seeds key at line %d", node.Line)
	}
}

// Resolve merges inline seeds with those from path (when set), keeping the
// first occurrence of each username in order.
func Resolve(inline []string, path string) ([]crawler.Username, error) {
	all := append([]string(nil), inline...)
	if path != "" {
		fromFile, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, fromFile...)
	}
	return crawler.NormalizeSeeds(all), nil
}
