package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/result"
	"github.com/san-kum/dipsim/internal/safety"
)

func sampleTrajectory() *result.Trajectory {
	tr := result.New(dynamo.State{0, 0.1}, 0.5, 3)
	tr.Integrator = "rk4"
	tr.Start()
	tr.Append(dynamo.Control{1.5}, dynamo.State{0.25, 0.2}, result.StepMeta{Evals: 4})
	tr.Append(dynamo.Control{-2}, dynamo.State{0.5, 1.0 / 3.0}, result.StepMeta{Evals: 4})
	return tr
}

func TestSaveLoad(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "runs"))
	require.NoError(t, s.Init())

	tr := sampleTrajectory()
	tr.Truncate(2, result.ReasonViolation, &safety.Violation{Kind: safety.KindBounds, Index: 1, Value: 0.4, Min: -0.3, Max: 0.3})

	info := RunInfo{Plant: "double_inverted_pendulum", Integrator: "rk4", Controller: "lqr", Mode: "sequential", Dt: 0.5, Horizon: 3}
	id, err := s.Save(info, tr, map[string]float64{"ise": 1.25})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "sequential_"))

	meta, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, id, meta.ID)
	assert.Equal(t, info, meta.Info)
	assert.Equal(t, result.StatusTruncated, meta.Status)
	assert.Equal(t, result.ReasonViolation, meta.StopReason)
	assert.Equal(t, 2, meta.TruncatedAt)
	assert.Equal(t, 2, meta.Steps)
	assert.Contains(t, meta.Violation, "outside")
	assert.Equal(t, 1.25, meta.Metrics["ise"])

	states, err := s.LoadStates(id)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, states.Times)
	assert.Equal(t, [][]float64{{0, 0.1}, {0.25, 0.2}, {0.5, 1.0 / 3.0}}, states.States)
	assert.Equal(t, [][]float64{{1.5}, {-2}, {0}}, states.Controls)
}

func TestIDsAreUnique(t *testing.T) {
	s := New(t.TempDir())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	a, err := s.Save(RunInfo{Mode: "batch"}, sampleTrajectory(), nil)
	require.NoError(t, err)
	b, err := s.Save(RunInfo{Mode: "batch"}, sampleTrajectory(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "batch_20240301-120000_"))
}

func TestListNewestFirst(t *testing.T) {
	s := New(t.TempDir())
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		s.now = func() time.Time { return at }
		id, err := s.Save(RunInfo{Mode: "sequential"}, sampleTrajectory(), nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, os.Mkdir(filepath.Join(s.baseDir, "junk"), 0755))

	runs, err := s.List()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[0], runs[2].ID)
}

func TestListMissingDir(t *testing.T) {
	runs, err := New(filepath.Join(t.TempDir(), "absent")).List()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLoadErrors(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Load("nope")
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = s.Save(RunInfo{}, nil, nil)
	assert.Error(t, err)

	dir := filepath.Join(s.baseDir, "bad")
	require.NoError(t, os.Mkdir(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte("{"), 0644))
	_, err = s.Load("bad")
	assert.Error(t, err)
}
