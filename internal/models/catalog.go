// Package models is the advertised model catalog for /v1/models.
package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Model is one catalog entry in OpenAI list form.
type Model struct {
	ID      string `json:"id" yaml:"id"`
	Object  string `json:"object" yaml:"-"`
	Created int64  `json:"created" yaml:"-"`
	OwnedBy string `json:"owned_by" yaml:"owned_by"`
}

type fileCatalog struct {
	Models []Model `yaml:"models"`
}

// Default returns the built-in Qwen catalog.
func Default() []Model {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	return []Model{
		{ID: "qwen3-coder-plus", Object: "model", Created: created, OwnedBy: "qwen"},
		{ID: "qwen3-coder-flash", Object: "model", Created: created, OwnedBy: "qwen"},
	}
}

// Load reads a YAML catalog override, falling back to the defaults when
// path is empty. Entries without an owner default to "qwen".
func Load(path string) ([]Model, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var fc fileCatalog
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse models file: %w", err)
	}
	if len(fc.Models) == 0 {
		return Default(), nil
	}
	created := time.Now().Unix()
	out := make([]Model, 0, len(fc.Models))
	for _, m := range fc.Models {
		m.Object = "model"
		m.Created = created
		if m.OwnedBy == "" {
			m.OwnedBy = "qwen"
		}
		out = append(out, m)
	}
	return out, nil
}
