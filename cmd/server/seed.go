package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// seedSource is one entry of the seed file.
type seedSource struct {
	Name   string         `yaml:"name"`
	Kind   string         `yaml:"kind"`
	URL    string         `yaml:"url"`
	Active *bool          `yaml:"active"`
	Config map[string]any `yaml:"config"`
}

type seedFile struct {
	Sources []seedSource `yaml:"sources"`
}

// seedSources creates any seed-file sources that do not exist yet,
// keyed by name. Existing sources are left untouched so operator edits
// survive restarts. A missing file is not an error.
func seedSources(ctx context.Context, repo domain.SourceRepository, path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("no seed file, skipping", slog.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("op=server.seed: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("op=server.seed: %w: %v", domain.ErrInvalidArgument, err)
	}

	var created int
	for _, s := range f.Sources {
		if s.Name == "" || s.Kind == "" || s.URL == "" {
			return fmt.Errorf("op=server.seed: %w: source needs name, kind and url", domain.ErrInvalidArgument)
		}
		_, err := repo.GetByName(ctx, s.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("op=server.seed: %w", err)
		}
		active := true
		if s.Active != nil {
			active = *s.Active
		}
		if _, err := repo.Create(ctx, domain.Source{
			Name:   s.Name,
			Kind:   domain.SourceKind(s.Kind),
			URL:    s.URL,
			Active: active,
			Config: s.Config,
		}); err != nil {
			return fmt.Errorf("op=server.seed source=%s: %w", s.Name, err)
		}
		created++
	}
	slog.Info("sources seeded", slog.Int("created", created), slog.Int("declared", len(f.Sources)))
	return nil
}
