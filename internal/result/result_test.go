package result

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/safety"
)

func sample(steps int) *Trajectory {
	tr := New(dynamo.State{0, 1}, 0.1, steps)
	x := dynamo.State{0, 1}
	for i := 0; i < steps; i++ {
		x = dynamo.State{x[0] + 0.1, x[1] * 0.5}
		tr.Append(dynamo.Control{float64(i)}, x, StepMeta{Evals: 4})
	}
	return tr
}

func TestTrajectoryGrid(t *testing.T) {
	tr := sample(10)

	require.Equal(t, 11, tr.Len())
	require.Equal(t, 10, tr.Steps())

	times := tr.Times()
	assert.Equal(t, 0.0, times[0])
	for i, ti := range times {
		assert.InDelta(t, float64(i)*0.1, ti, 1e-12)
	}
	assert.Equal(t, 40, tr.Evals())
	assert.InDelta(t, 1.0, tr.FinalTime(), 1e-12)
}

func TestTrajectoryOwnsItsData(t *testing.T) {
	x0 := dynamo.State{1, 2}
	u := dynamo.Control{3}
	tr := New(x0, 0.1, 1)
	x1 := dynamo.State{4, 5}
	tr.Append(u, x1, StepMeta{})

	x0[0] = 99
	u[0] = 99
	x1[0] = 99
	assert.Equal(t, 1.0, tr.State(0)[0])
	assert.Equal(t, 3.0, tr.Controls()[0][0])
	assert.Equal(t, 4.0, tr.Final()[0])

	states := tr.States()
	states[1][1] = 99
	assert.Equal(t, 5.0, tr.State(1)[1])
}

func TestTrajectoryLifecycle(t *testing.T) {
	tr := sample(3)
	assert.Equal(t, StatusInit, tr.Status)
	assert.Equal(t, -1, tr.TruncatedAt)

	tr.Start()
	assert.Equal(t, StatusStepping, tr.Status)

	v := &safety.Violation{Kind: safety.KindFinite, Index: 0, Value: math.NaN()}
	tr.Truncate(3, ReasonViolation, v)
	assert.True(t, tr.Truncated())
	assert.Equal(t, 3, tr.TruncatedAt)
	assert.Equal(t, "truncated", tr.Status.String())
	assert.Same(t, v, tr.Violation)
}

func TestTrajectoryPrefix(t *testing.T) {
	tr := sample(10)
	p := tr.Prefix(4)

	require.Equal(t, 5, p.Len())
	assert.Equal(t, StatusCompleted, p.Status)
	for i := 0; i < p.Len(); i++ {
		assert.True(t, p.State(i).Equal(tr.State(i)))
		assert.Equal(t, tr.Time(i), p.Time(i))
	}

	assert.Equal(t, tr.Len(), tr.Prefix(100).Len())
	assert.Equal(t, 1, tr.Prefix(-1).Len())
}

func TestBatchSet(t *testing.T) {
	b := NewBatchSet(3)
	for i := range b.Members {
		b.Members[i] = sample(i + 1)
		b.Active[i] = true
	}

	assert.Equal(t, 3, b.ActiveCount())
	b.Freeze(1)
	assert.Equal(t, 2, b.ActiveCount())

	tr, ok := b.Get(2)
	require.True(t, ok)
	assert.Equal(t, 4, tr.Len())

	_, ok = b.Get(3)
	assert.False(t, ok)
	assert.Len(t, b.Statuses(), 3)
}

func TestWriteJSON(t *testing.T) {
	tr := sample(2)
	tr.Integrator = "rk4"
	tr.Complete(ReasonHorizon)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, tr))

	var data ExportData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &data))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, "completed", raw["status"])

	assert.Equal(t, "rk4", data.Integrator)
	assert.Equal(t, 2, data.Steps)
	assert.Len(t, data.States, 3)
	assert.Len(t, data.Controls, 2)
	assert.Equal(t, -1, data.TruncatedAt)
	assert.Equal(t, StatusCompleted, data.Status)
}

func TestWriteCSV(t *testing.T) {
	tr := sample(2)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tr))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"time", "x0", "x1", "u0"}, rows[0])
	assert.Equal(t, "0", rows[3][3])
}

func TestExportDispatch(t *testing.T) {
	dir := t.TempDir()
	tr := sample(2)

	for _, format := range []string{"json", "csv"} {
		path := filepath.Join(dir, "out."+format)
		require.NoError(t, tr.Export(format, path))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	err := tr.Export("parquet", filepath.Join(dir, "out.parquet"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown export format")
}

func TestRegisterExporter(t *testing.T) {
	called := false
	RegisterExporter("count", ExporterFunc(func(w io.Writer, tr *Trajectory) error {
		called = true
		_, err := io.WriteString(w, "n")
		return err
	}))
	t.Cleanup(func() {
		exportersMu.Lock()
		delete(exporters, "count")
		exportersMu.Unlock()
	})

	assert.Contains(t, Formats(), "count")
	require.NoError(t, sample(1).Export("count", filepath.Join(t.TempDir(), "n.txt")))
	assert.True(t, called)
}
