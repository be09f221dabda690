// Package domain holds the domain configuration: entity and relationship
// vocabularies, thresholds, prompt instructions, and the topic taxonomy.
// Components read the configuration at construction and never again.
package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GraphMemoryConfig controls the graph pipeline vocabularies and thresholds.
type GraphMemoryConfig struct {
	Enabled             bool     `yaml:"enabled" json:"enabled"`
	EntityTypes         []string `yaml:"entity_types" json:"entity_types"`
	RelationshipTypes   []string `yaml:"relationship_types" json:"relationship_types"`
	SimilarityThreshold float64  `yaml:"similarity_threshold" json:"similarity_threshold"`
}

// Config is a full domain configuration.
type Config struct {
	DomainName          string              `yaml:"domain_name" json:"domain_name"`
	GraphMemory         GraphMemoryConfig   `yaml:"graph_memory_config" json:"graph_memory_config"`
	TopicTaxonomy       map[string][]string `yaml:"topic_taxonomy" json:"topic_taxonomy"`
	TopicNormalizations map[string]string   `yaml:"topic_normalizations" json:"topic_normalizations"`

	// Prompt-instruction strings appended to the relevant LLM prompts.
	DigestInstructions       string `yaml:"digest_instructions" json:"digest_instructions"`
	EntityInstructions       string `yaml:"entity_instructions" json:"entity_instructions"`
	RelationshipInstructions string `yaml:"relationship_instructions" json:"relationship_instructions"`
}

// Load reads a domain configuration from a YAML file and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read domain config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse domain config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration invariants. A failing config is a
// startup error; the process must not proceed with it.
func (c *Config) Validate() error {
	if c.DomainName == "" {
		return fmt.Errorf("domain config: domain_name must not be empty")
	}
	if c.GraphMemory.Enabled {
		if len(c.GraphMemory.EntityTypes) == 0 {
			return fmt.Errorf("domain config %q: entity_types must not be empty", c.DomainName)
		}
		if len(c.GraphMemory.RelationshipTypes) == 0 {
			return fmt.Errorf("domain config %q: relationship_types must not be empty", c.DomainName)
		}
	}
	if c.GraphMemory.SimilarityThreshold < 0 || c.GraphMemory.SimilarityThreshold > 1 {
		return fmt.Errorf("domain config %q: similarity_threshold must be in [0,1], got %v",
			c.DomainName, c.GraphMemory.SimilarityThreshold)
	}
	return nil
}

// HasEntityType reports whether t is in the domain's entity vocabulary.
func (c *Config) HasEntityType(t string) bool {
	for _, e := range c.GraphMemory.EntityTypes {
		if e == t {
			return true
		}
	}
	return false
}

// HasRelationshipType reports whether r is in the domain's relationship
// vocabulary.
func (c *Config) HasRelationshipType(r string) bool {
	for _, e := range c.GraphMemory.RelationshipTypes {
		if e == r {
			return true
		}
	}
	return false
}

// Builtin returns the built-in fallback configuration for a known domain.
func Builtin(name string) (*Config, error) {
	switch name {
	case "dnd", "d&d":
		return dndConfig(), nil
	case "assistant", "general":
		return assistantConfig(), nil
	default:
		return nil, fmt.Errorf("no built-in domain config for %q", name)
	}
}

func dndConfig() *Config {
	return &Config{
		DomainName: "dnd",
		GraphMemory: GraphMemoryConfig{
			Enabled:             true,
			EntityTypes:         []string{"character", "location", "object", "concept", "event"},
			RelationshipTypes:   []string{"located_in", "owns", "knows", "member_of", "discovered", "created", "destroyed", "allied_with", "enemy_of", "related_to"},
			SimilarityThreshold: 0.8,
		},
		TopicTaxonomy: map[string][]string{
			"characters": {"npc", "party", "villain"},
			"places":     {"location", "dungeon", "settlement"},
			"lore":       {"history", "archaeology", "religion", "magic"},
			"play":       {"combat", "exploration", "quest"},
		},
		TopicNormalizations: map[string]string{
			"npcs":          "npc",
			"geography":     "location",
			"ancient ruins": "archaeology",
			"ruins":         "archaeology",
			"towns":         "settlement",
			"cities":        "settlement",
			"spells":        "magic",
			"fights":        "combat",
			"battles":       "combat",
		},
		DigestInstructions:       "This is a tabletop roleplaying campaign. Track characters, places, items, and story events.",
		EntityInstructions:       "Prefer proper nouns for character and location names. Items of narrative significance count as objects.",
		RelationshipInstructions: "Only report relationships stated or strongly implied by the text.",
	}
}

func assistantConfig() *Config {
	return &Config{
		DomainName: "assistant",
		GraphMemory: GraphMemoryConfig{
			Enabled:             true,
			EntityTypes:         []string{"person", "organization", "project", "tool", "concept", "event"},
			RelationshipTypes:   []string{"works_on", "works_at", "uses", "knows", "part_of", "created", "depends_on", "related_to"},
			SimilarityThreshold: 0.8,
		},
		TopicTaxonomy: map[string][]string{
			"work":     {"project", "deadline", "meeting"},
			"personal": {"preference", "habit", "contact"},
			"tech":     {"software", "hardware", "infrastructure"},
		},
		TopicNormalizations: map[string]string{
			"projects":     "project",
			"meetings":     "meeting",
			"preferences":  "preference",
			"apps":         "software",
			"applications": "software",
			"servers":      "infrastructure",
		},
		DigestInstructions:       "This is an ongoing conversation with a personal assistant. Track people, projects, tools, and stated preferences.",
		EntityInstructions:       "People and organizations should use their stated names. Recurring tools and projects count as entities.",
		RelationshipInstructions: "Only report relationships stated or strongly implied by the text.",
	}
}
