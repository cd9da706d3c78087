// Package campaign tracks a player's progress through an authored campaign
// and decides when the story rolls over into the next chapter.
package campaign

import (
	"fmt"
	"os"

	"github.com/lexlapax/saga/pkg/errors"
	"gopkg.in/yaml.v3"
)

// PlotPoint is one authored beat of a chapter.
type PlotPoint struct {
	PlotID          int      `json:"plot_id" yaml:"plot_id"`
	Title           string   `json:"title" yaml:"title"`
	Description     string   `json:"description" yaml:"description"`
	GameMasterNotes []string `json:"game_master_notes,omitempty" yaml:"game_master_notes,omitempty"`
}

// Chapter is an ordered list of plot points.
type Chapter struct {
	ChapterID  int         `json:"chapter_id" yaml:"chapter_id"`
	Title      string      `json:"title" yaml:"title"`
	Summary    string      `json:"summary,omitempty" yaml:"summary,omitempty"`
	PlotPoints []PlotPoint `json:"plot_points" yaml:"plot_points"`
}

// Campaign is the authored plan, read-only once loaded.
type Campaign struct {
	Title    string    `json:"title" yaml:"title"`
	Chapters []Chapter `json:"chapters" yaml:"chapters"`
}

// Chapter returns a copy of the chapter with id.
func (c *Campaign) Chapter(id int) (Chapter, bool) {
	if c == nil {
		return Chapter{}, false
	}
	for _, ch := range c.Chapters {
		if ch.ChapterID == id {
			return ch.Clone(), true
		}
	}
	return Chapter{}, false
}

// PlotPoint returns a copy of the plot point with id.
func (ch Chapter) PlotPoint(id int) (PlotPoint, bool) {
	for _, p := range ch.PlotPoints {
		if p.PlotID == id {
			return p.Clone(), true
		}
	}
	return PlotPoint{}, false
}

// Clone returns a deep copy of ch.
func (ch Chapter) Clone() Chapter {
	out := ch
	if ch.PlotPoints != nil {
		out.PlotPoints = make([]PlotPoint, len(ch.PlotPoints))
		for i, p := range ch.PlotPoints {
			out.PlotPoints[i] = p.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of p.
func (p PlotPoint) Clone() PlotPoint {
	if p.GameMasterNotes != nil {
		p.GameMasterNotes = append([]string(nil), p.GameMasterNotes...)
	}
	return p
}

// LoadFile reads a campaign from a YAML or JSON file.
func LoadFile(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read campaign file %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid campaign file %s", path)
	}
	return c, nil
}

// Parse decodes a YAML or JSON campaign and validates its identifiers.
func Parse(data []byte) (*Campaign, error) {
	var c Campaign
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that chapter ids are exactly 1..N and that the plot ids
// of every chapter are exactly 1..M. Chapters may be listed in any order.
func (c *Campaign) Validate() error {
	if len(c.Chapters) == 0 {
		return fmt.Errorf("%w: campaign has no chapters", errors.ErrInvalidInput)
	}

	chapters := make(map[int]bool, len(c.Chapters))
	for _, ch := range c.Chapters {
		if ch.ChapterID < 1 {
			return fmt.Errorf("%w: chapter id %d must be at least 1", errors.ErrInvalidInput, ch.ChapterID)
		}
		if chapters[ch.ChapterID] {
			return fmt.Errorf("%w: duplicate chapter id %d", errors.ErrInvalidInput, ch.ChapterID)
		}
		chapters[ch.ChapterID] = true

		plots := make(map[int]bool, len(ch.PlotPoints))
		for _, p := range ch.PlotPoints {
			if p.PlotID < 1 {
				return fmt.Errorf("%w: chapter %d: plot id %d must be at least 1", errors.ErrInvalidInput, ch.ChapterID, p.PlotID)
			}
			if plots[p.PlotID] {
				return fmt.Errorf("%w: chapter %d: duplicate plot id %d", errors.ErrInvalidInput, ch.ChapterID, p.PlotID)
			}
			plots[p.PlotID] = true
		}
		for id := 1; id <= len(ch.PlotPoints); id++ {
			if !plots[id] {
				return fmt.Errorf("%w: chapter %d: plot ids must run from 1 to %d without gaps, %d is missing",
					errors.ErrInvalidInput, ch.ChapterID, len(ch.PlotPoints), id)
			}
		}
	}

	for id := 1; id <= len(c.Chapters); id++ {
		if !chapters[id] {
			return fmt.Errorf("%w: chapter ids must run from 1 to %d without gaps, %d is missing",
				errors.ErrInvalidInput, len(c.Chapters), id)
		}
	}
	return nil
}
