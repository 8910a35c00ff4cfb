package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/pattern-cli/internal/model"
)

func validRecord() *model.ExtractedRecord {
	return &model.ExtractedRecord{
		PatternName: "Woolly Bugger",
		Components: []model.Component{
			{Name: "Mustad 9672", Type: "hook", Position: 4},
			{Name: "Uni-Thread 6/0", Type: "thread", Position: 9},
			{Name: "Marabou", Type: "tail", Position: 11},
		},
	}
}

func TestValidateAndRepair_EmptyName(t *testing.T) {
	r := validRecord()
	r.PatternName = "   "
	err := ValidateAndRepair(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty pattern name")
}

func TestValidateAndRepair_NoComponents(t *testing.T) {
	r := validRecord()
	r.Components = nil
	err := ValidateAndRepair(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no components")
}

func TestValidateAndRepair_NoHook(t *testing.T) {
	r := &model.ExtractedRecord{
		PatternName: "Woolly Bugger",
		Components: []model.Component{
			{Name: "Marabou", Type: "tail", Position: 1},
		},
	}
	err := ValidateAndRepair(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no hook component")
}

func TestValidateAndRepair_ForcesHookAndThreadRequired(t *testing.T) {
	r := validRecord()
	require.NoError(t, ValidateAndRepair(r))
	assert.True(t, r.Components[0].Required)
	assert.True(t, r.Components[1].Required)
	assert.False(t, r.Components[2].Required)
}

func TestValidateAndRepair_DedupesTypesKeepingFirst(t *testing.T) {
	r := &model.ExtractedRecord{
		PatternName: "Woolly Bugger",
		Components: []model.Component{
			{Name: "Mustad 9672", Type: "hook", Position: 1},
			{Name: "Marabou", Type: "tail", Position: 2},
			{Name: "Krystal Flash", Type: "tail", Position: 3},
		},
	}
	require.NoError(t, ValidateAndRepair(r))
	require.Len(t, r.Components, 2)
	assert.Equal(t, "Marabou", r.Components[1].Name)
}

func TestValidateAndRepair_SanitizesTypeAliases(t *testing.T) {
	r := &model.ExtractedRecord{
		PatternName: "Woolly Bugger",
		Components: []model.Component{
			{Name: "Mustad 9672", Type: "Hook"},
			{Name: "Chenille", Type: "dubbing"},
			{Name: "Copper Wire", Type: "wire"},
			{Name: "Something Odd", Type: "flotsam"},
		},
	}
	require.NoError(t, ValidateAndRepair(r))
	require.Len(t, r.Components, 4)
	assert.Equal(t, "hook", r.Components[0].Type)
	assert.Equal(t, "body", r.Components[1].Type)
	assert.Equal(t, "rib", r.Components[2].Type)
	assert.Equal(t, "other", r.Components[3].Type)
}

func TestValidateAndRepair_RenumbersPositions(t *testing.T) {
	r := validRecord()
	require.NoError(t, ValidateAndRepair(r))
	for i, c := range r.Components {
		assert.Equal(t, i+1, c.Position)
	}
}

func TestValidateAndRepair_DropsEmptyNames(t *testing.T) {
	r := &model.ExtractedRecord{
		PatternName: "Woolly Bugger",
		Components: []model.Component{
			{Name: "  ", Type: "tail"},
			{Name: "Mustad 9672", Type: "hook"},
		},
	}
	require.NoError(t, ValidateAndRepair(r))
	require.Len(t, r.Components, 1)
	assert.Equal(t, "Mustad 9672", r.Components[0].Name)
}
