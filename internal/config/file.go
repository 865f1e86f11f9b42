package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig holds settings that do not fit in environment variables.
//
// Example:
//
//	columns:
//	  name: [name, product name, title]
//	  key: [sku, article number]
//	webhooks:
//	  - url: https://hooks.example.com/catalog
//	    events: [product.created, product.updated]
type FileConfig struct {
	Columns  ColumnKeywords `yaml:"columns"`
	Webhooks []Webhook      `yaml:"webhooks"`
}

// ColumnKeywords overrides the header keywords per logical field.
// An empty list keeps the built-in keywords for that field.
type ColumnKeywords struct {
	Name        []string `yaml:"name"`
	Key         []string `yaml:"key"`
	Description []string `yaml:"description"`
}

// Webhook is a single outbound subscriber.
type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the subscriber should receive events.
func (w Webhook) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// LoadFile reads and decodes a YAML config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

var knownEvents = map[string]bool{
	"product.created": true,
	"product.updated": true,
	"product.deleted": true,
}

func (fc *FileConfig) validate() []string {
	var errs []string
	for i, w := range fc.Webhooks {
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("webhooks[%d].url (%q) must be an absolute http(s) URL", i, w.URL))
		}
		if len(w.Events) == 0 {
			errs = append(errs, fmt.Sprintf("webhooks[%d].events must not be empty", i))
		}
		for _, ev := range w.Events {
			if !knownEvents[ev] {
				errs = append(errs, fmt.Sprintf("webhooks[%d].events contains unknown event %q", i, ev))
			}
		}
	}
	return errs
}
