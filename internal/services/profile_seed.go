package services

import (
	"context"
	"fmt"
	"os"

	"github.com/agentx/guardian-backend/internal/models"
	"gopkg.in/yaml.v3"
)

// SeedEntry holds both halves of one service's scores in a seed file
type SeedEntry struct {
	Parent map[string]float64 `yaml:"parent"`
	Child  map[string]float64 `yaml:"child"`
}

// ProfileSeed is the on-disk profile configuration, keyed by service type:
//
//	toxic:
//	  parent: {骚扰与网络霸凌: 5}
//	  child: {骚扰与网络霸凌: 1}
type ProfileSeed map[models.DetectionType]SeedEntry

// LoadProfileSeed reads and validates a seed file
func LoadProfileSeed(path string) (ProfileSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile seed: %w", err)
	}

	var seed ProfileSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse profile seed %s: %w", path, err)
	}
	for t := range seed {
		if _, err := models.ParseDetectionType(string(t)); err != nil {
			return nil, err
		}
	}
	return seed, nil
}

// ApplySeed applies every half present in the seed whose scores differ from
// the active profile. It returns how many halves were applied.
func (e *ProfileEngine) ApplySeed(ctx context.Context, seed ProfileSeed) (int, error) {
	applied := 0
	for _, t := range models.DetectionTypes {
		entry, ok := seed[t]
		if !ok {
			continue
		}
		for _, half := range []struct {
			source models.ScoreSource
			scores map[string]float64
		}{
			{models.SourceParent, entry.Parent},
			{models.SourceChild, entry.Child},
		} {
			if half.scores == nil {
				continue
			}
			canonical, err := canonicalScores(t, half.scores)
			if err != nil {
				return applied, err
			}
			cur, _ := e.Active(t)
			existing := cur.ParentScores
			if half.source == models.SourceChild {
				existing = cur.ChildScores
			}
			if equalScores(existing, canonical) {
				continue
			}
			if _, err := e.Apply(ctx, t, half.source, half.scores); err != nil {
				return applied, err
			}
			applied++
		}
	}
	return applied, nil
}
