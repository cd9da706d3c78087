package campaign

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lexlapax/saga/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestCampaign(t *testing.T) *Campaign {
	t.Helper()
	c, err := LoadFile(filepath.Join("testdata", "campaign.yaml"))
	require.NoError(t, err)
	return c
}

func TestLoadFile(t *testing.T) {
	c := loadTestCampaign(t)

	assert.Equal(t, "The Sunken Crown", c.Title)
	require.Len(t, c.Chapters, 3)
	assert.Len(t, c.Chapters[0].PlotPoints, 3)
	assert.Equal(t, []string{"Mara knows the tide tables.", "She lies about her brother."},
		c.Chapters[0].PlotPoints[1].GameMasterNotes)

	_, err := LoadFile(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_JSON(t *testing.T) {
	c, err := Parse([]byte(`{"title": "json", "chapters": [{"chapter_id": 1, "plot_points": [{"plot_id": 1, "title": "start"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "start", c.Chapters[0].PlotPoints[0].Title)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "chapters: [unclosed"},
		{"no chapters", "title: empty"},
		{"chapter id zero", "chapters: [{chapter_id: 0}]"},
		{"duplicate chapter", "chapters: [{chapter_id: 1}, {chapter_id: 1}]"},
		{"plot id zero", "chapters: [{chapter_id: 1, plot_points: [{plot_id: 0}]}]"},
		{"duplicate plot", "chapters: [{chapter_id: 1, plot_points: [{plot_id: 1}, {plot_id: 1}]}]"},
		{"plots not starting at one", "chapters: [{chapter_id: 1, plot_points: [{plot_id: 2}]}]"},
		{"plot id gap", "chapters: [{chapter_id: 1, plot_points: [{plot_id: 1}, {plot_id: 3}]}]"},
		{"chapter id gap", "chapters: [{chapter_id: 1}, {chapter_id: 3}]"},
		{"chapters not starting at one", "chapters: [{chapter_id: 2}, {chapter_id: 3}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
		})
	}
}

func TestParse_ChaptersInAnyOrder(t *testing.T) {
	c, err := Parse([]byte("chapters: [{chapter_id: 2, plot_points: [{plot_id: 1}]}, {chapter_id: 1, plot_points: [{plot_id: 2}, {plot_id: 1}]}]"))
	require.NoError(t, err)

	ch, ok := c.Chapter(2)
	require.True(t, ok)
	assert.Equal(t, 2, ch.ChapterID)
}

func TestCampaignLookupsReturnCopies(t *testing.T) {
	c := loadTestCampaign(t)

	ch, ok := c.Chapter(1)
	require.True(t, ok)
	ch.PlotPoints[1].GameMasterNotes[0] = "changed"
	ch.PlotPoints = append(ch.PlotPoints, PlotPoint{PlotID: 9})

	again, _ := c.Chapter(1)
	assert.Equal(t, "Mara knows the tide tables.", again.PlotPoints[1].GameMasterNotes[0])
	assert.Len(t, again.PlotPoints, 3)

	_, ok = c.Chapter(42)
	assert.False(t, ok)

	var nilCampaign *Campaign
	_, ok = nilCampaign.Chapter(1)
	assert.False(t, ok)
}

func TestLoadFile_WrittenCampaign(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chapters: [{chapter_id: 1}]"), 0600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, c.Chapters[0].PlotPoints)
}
