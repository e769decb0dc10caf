package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Synonyms maps human phrasings to canonical schema identifiers. Loaded once
// at startup from a YAML file; an absent file yields an empty config.
type Synonyms struct {
	Labels        map[string][]string `yaml:"labels"`
	Relationships map[string][]string `yaml:"relationships"`
	Properties    map[string][]string `yaml:"properties"`
}

func LoadSynonyms(path string) (*Synonyms, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "configs/synonyms.yaml"
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Synonyms{}, nil
		}
		return nil, fmt.Errorf("read synonyms: %w", err)
	}
	var out Synonyms
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse synonyms: %w", err)
	}
	return &out, nil
}

// ForKind returns the synonym table for one term kind.
func (s *Synonyms) ForKind(kind string) map[string][]string {
	if s == nil {
		return nil
	}
	switch kind {
	case KindLabel:
		return s.Labels
	case KindRelationship:
		return s.Relationships
	case KindProperty:
		return s.Properties
	default:
		return nil
	}
}

// Lookup scans the synonym lists of one kind for a case-insensitive
// substring match and returns the canonical ids, sorted for determinism.
func (s *Synonyms) Lookup(term, kind string) []string {
	table := s.ForKind(kind)
	if len(table) == 0 {
		return nil
	}
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil
	}
	var hits []string
	for canonical, alts := range table {
		if strings.Contains(strings.ToLower(canonical), needle) {
			hits = append(hits, canonical)
			continue
		}
		for _, alt := range alts {
			if strings.Contains(strings.ToLower(alt), needle) {
				hits = append(hits, canonical)
				break
			}
		}
	}
	sort.Strings(hits)
	return hits
}
