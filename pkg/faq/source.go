package faq

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source yields a complete batch of FAQ entries.
type Source interface {
	Entries(ctx context.Context) ([]Entry, error)
}

// StaticSource serves a fixed batch.
type StaticSource []Entry

// Entries implements Source.
func (s StaticSource) Entries(_ context.Context) ([]Entry, error) {
	return append([]Entry(nil), s...), nil
}

// File is the on-disk YAML layout of an FAQ batch.
type File struct {
	FAQs []Entry `yaml:"faqs"`
}

// FileSource reads entries from a YAML file.
type FileSource struct {
	Path string
}

// Entries implements Source.
func (s FileSource) Entries(_ context.Context) ([]Entry, error) {
	return LoadFile(s.Path)
}

// LoadFile reads an FAQ batch from a YAML file.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := validateEntries(f.FAQs); err != nil {
		return nil, fmt.Errorf("invalid faq file %s: %w", path, err)
	}
	return f.FAQs, nil
}
