package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/OCAP2/choreograph/internal/model"
	"github.com/OCAP2/choreograph/pkg/core"
)

func TestProjectRoundTrip(t *testing.T) {
	audio := "song.mp3"
	p := core.NewProject("Finale")
	p.AudioFileName = &audio
	p.Keyframes = append(p.Keyframes, core.Keyframe{
		ID:        "k1",
		Timestamp: 1500,
		Positions: map[core.PerformerID]core.Position{"d2": {X: 12.5, Y: 99}},
	})

	row, err := ProjectToGorm(p)
	require.NoError(t, err)
	assert.Equal(t, "Finale", row.Name)
	assert.True(t, row.AudioFileName.Valid)
	require.Len(t, row.Performers, 5)
	assert.Equal(t, 4, row.Performers[4].Ordinal)
	require.Len(t, row.Keyframes, 2)

	back, err := ProjectToCore(row)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestProjectToCore_OrdersPerformersByOrdinal(t *testing.T) {
	row := model.Project{
		Name:    "x",
		Version: 1,
		Performers: []model.Performer{
			{PerformerID: "b", Ordinal: 1},
			{PerformerID: "a", Ordinal: 0},
		},
	}

	p, err := ProjectToCore(row)
	require.NoError(t, err)
	assert.Equal(t, core.PerformerID("a"), p.Dancers[0].ID)
	assert.Nil(t, p.AudioFileName)
}

func TestKeyframeToCore(t *testing.T) {
	k, err := KeyframeToCore(model.Keyframe{
		KeyframeID: "k",
		Timestamp:  300,
		Positions:  datatypes.JSON(`{"d1":{"x":1,"y":2}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, core.Position{X: 1, Y: 2}, k.Positions["d1"])

	empty, err := KeyframeToCore(model.Keyframe{KeyframeID: "e", Positions: datatypes.JSON(`null`)})
	require.NoError(t, err)
	assert.NotNil(t, empty.Positions)

	_, err = KeyframeToCore(model.Keyframe{KeyframeID: "bad", Positions: datatypes.JSON(`[`)})
	assert.Error(t, err)
}
