package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIDs(t *testing.T) {
	tests := []struct {
		name string
		text string
		tag  string
		want []int
	}{
		{"several ids in order", "The party is at PLOT_ID: 3 ... but also hints at PLOT_ID: 5", DefaultPlotTag, []int{3, 5}},
		{"single id", "CHAPTER_ID: 2", DefaultChapterTag, []int{2}},
		{"no space after tag", "PLOT_ID:7", "PLOT_ID:", []int{7}},
		{"extra spaces", "PLOT_ID:   4", "PLOT_ID:", []int{4}},
		{"empty text", "", DefaultPlotTag, []int{0}},
		{"blank text", "   \n", DefaultPlotTag, []int{0}},
		{"no tag in text", "the heroes wander", DefaultPlotTag, []int{0}},
		{"tag without number", "PLOT_ID: unknown", DefaultPlotTag, []int{0}},
		{"other tag ignored", "CHAPTER_ID: 2", DefaultPlotTag, []int{0}},
		{"overflow is no signal", "PLOT_ID: 99999999999999999999999", DefaultPlotTag, []int{0}},
		{"regex characters in tag", "[pp]+ 6", "[pp]+ ", []int{6}},
		{"empty tag", "PLOT_ID: 3", "", []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractIDs(tt.text, tt.tag))
		})
	}
}

func TestMaxID(t *testing.T) {
	assert.Equal(t, 5, maxID([]int{3, 5, 1}))
	assert.Equal(t, 0, maxID([]int{0}))
	assert.Equal(t, 0, maxID(nil))
}
