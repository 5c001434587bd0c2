package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dipsim/internal/result"
	"github.com/san-kum/dipsim/internal/storage"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseGrid(t *testing.T) {
	names, ranges, err := parseGrid([]string{"gain_scale=0.5, 1,2", "r=0.1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gain_scale", "r"}, names)
	assert.Equal(t, [][]float64{{0.5, 1, 2}, {0.1}}, ranges)

	for _, bad := range []string{"gain_scale", "=1", "r=", "r=a,b"} {
		_, _, err := parseGrid([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestFormatParams(t *testing.T) {
	got := formatParams([]string{"b", "a"}, map[string]float64{"a": 1, "b": 0.5})
	assert.Equal(t, "b=0.5 a=1", got)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, "csv", formatOf("out/run.csv"))
	assert.Equal(t, "json", formatOf("run"))
}

func TestIntegratorsCommand(t *testing.T) {
	out, err := execute(t, "integrators")
	require.NoError(t, err)
	for _, want := range []string{"ID", "rk4", "rk45", "dopri5", "backward_euler", "leapfrog"} {
		assert.Contains(t, out, want)
	}
}

func TestRunCommandNoSave(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "run", "--steps", "10", "--no-save", "--data", dir, "--log-level", "error")
	require.NoError(t, err)

	runs, err := storage.New(dir).List()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunListAnalyze(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "run", "--steps", "50", "--data", dir, "--log-level", "error")
	require.NoError(t, err)

	runs, err := storage.New(dir).List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, result.StatusCompleted, run.Status)
	assert.Equal(t, 50, run.Steps)
	assert.Equal(t, "rk4", run.Info.Integrator)

	out, err := execute(t, "list", "--data", dir)
	require.NoError(t, err)
	assert.Contains(t, out, run.ID)

	_, err = execute(t, "analyze", run.ID, "--data", dir, "--poincare", "4")
	require.NoError(t, err)

	_, err = execute(t, "analyze", run.ID, "--data", dir, "--poincare", "9")
	assert.Error(t, err)
}

func TestRunCommandRejectsUnknownPreset(t *testing.T) {
	_, err := execute(t, "run", "--preset", "sideways", "--no-save", "--data", t.TempDir())
	assert.ErrorContains(t, err, "unknown preset")
}
