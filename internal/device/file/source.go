// Package file serves counter snapshots from a YAML or JSON fixture. It is
// used for dry runs, staging and replaying captured device listings.
package file

import (
	"context"
	"fmt"
	"os"

	"github.com/goodtune/ispmeter/internal/usage"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Snapshot is the on-disk fixture layout.
type Snapshot struct {
	Sessions   []usage.ActiveSession `yaml:"sessions"`
	Interfaces []usage.Interface     `yaml:"interfaces"`
}

// Source reads a fixture file on every call, so edits are picked up by the
// next cycle without a restart.
type Source struct {
	path   string
	logger zerolog.Logger
}

// New creates a new fixture source.
func New(path string, logger zerolog.Logger) *Source {
	return &Source{
		path:   path,
		logger: logger.With().Str("component", "file-source").Str("path", path).Logger(),
	}
}

// ListActiveSessions returns the fixture's sessions.
func (s *Source) ListActiveSessions(ctx context.Context) ([]usage.ActiveSession, error) {
	snapshot, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Sessions, nil
}

// ListInterfaces returns the fixture's interfaces.
func (s *Source) ListInterfaces(ctx context.Context) ([]usage.Interface, error) {
	snapshot, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Interfaces, nil
}

func (s *Source) load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot fixture: %w", err)
	}

	var snapshot Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse snapshot fixture %s: %w", s.path, err)
	}

	s.logger.Debug().
		Int("sessions", len(snapshot.Sessions)).
		Int("interfaces", len(snapshot.Interfaces)).
		Msg("Loaded snapshot fixture")
	return &snapshot, nil
}
