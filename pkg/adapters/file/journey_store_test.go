package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/journeys/pkg/adapters/file"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileJourneyStore_Contract(t *testing.T) {
	ports.RunJourneyStoreContract(t, file.NewJourneyStore(t.TempDir()))
}

const yamlJourney = `
name: Post-op follow up
start_node_id: welcome
nodes:
  - id: welcome
    type: MESSAGE
    message: Welcome back
    next_node_id: wait
  - id: wait
    type: DELAY
    duration_seconds: 86400
    next_node_id: check
  - id: check
    type: CONDITIONAL
    condition:
      field: patient.age
      operator: ">"
      value: 65
    on_true_next_node_id: senior
    on_false_next_node_id: null
  - id: senior
    type: MESSAGE
    message: A nurse will call you
    next_node_id: null
`

func TestFileJourneyStore_ReadsYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "post-op.yaml"), []byte(yamlJourney), 0644))
	store := file.NewJourneyStore(dir)
	ctx := context.Background()

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"post-op"}, ids)

	j, err := store.Get(ctx, "post-op")
	require.NoError(t, err)
	assert.Equal(t, "post-op", j.ID, "id defaults to the file name")
	require.NoError(t, j.Validate())
	require.Len(t, j.Nodes, 4)

	check, ok := j.Nodes[2].(*domain.ConditionalNode)
	require.True(t, ok)
	assert.Equal(t, float64(65), check.Condition.Value)
	assert.Equal(t, "senior", check.OnTrue)
	assert.Empty(t, check.OnFalse)

	delay, ok := j.Nodes[1].(*domain.DelayNode)
	require.True(t, ok)
	assert.Equal(t, float64(86400), delay.DurationSeconds)
}

func TestFileJourneyStore_SaveReplacesYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "post-op.yml"), []byte(yamlJourney), 0644))
	store := file.NewJourneyStore(dir)
	ctx := context.Background()

	j, err := store.Get(ctx, "post-op")
	require.NoError(t, err)
	j.Name = "renamed"
	require.NoError(t, store.Save(ctx, j))

	_, err = os.Stat(filepath.Join(dir, "post-op.yml"))
	assert.True(t, os.IsNotExist(err))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"post-op"}, ids)
}

func TestFileJourneyStore_RejectsPathIDs(t *testing.T) {
	store := file.NewJourneyStore(t.TempDir())
	err := store.Save(context.Background(), &domain.Journey{ID: "../escape"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = store.Get(context.Background(), "../escape")
	assert.ErrorIs(t, err, domain.ErrJourneyNotFound)
}

func TestDecode_UnknownNodeType(t *testing.T) {
	_, err := file.Decode([]byte(`{"id":"x","start_node_id":"a","nodes":[{"id":"a","type":"WEBHOOK"}]}`), ".json")
	assert.ErrorIs(t, err, domain.ErrUnsupportedNodeType)
}
