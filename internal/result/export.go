package result

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
)

// Exporter writes a trajectory in one concrete format.
type Exporter interface {
	Export(w io.Writer, tr *Trajectory) error
}

type ExporterFunc func(w io.Writer, tr *Trajectory) error

func (f ExporterFunc) Export(w io.Writer, tr *Trajectory) error { return f(w, tr) }

var (
	exportersMu sync.RWMutex
	exporters   = map[string]Exporter{
		"json": ExporterFunc(WriteJSON),
		"csv":  ExporterFunc(WriteCSV),
	}
)

// RegisterExporter adds or replaces the exporter for format.
func RegisterExporter(format string, e Exporter) {
	exportersMu.Lock()
	defer exportersMu.Unlock()
	exporters[format] = e
}

func Formats() []string {
	exportersMu.RLock()
	defer exportersMu.RUnlock()
	out := make([]string, 0, len(exporters))
	for f := range exporters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Export writes the trajectory to path using the exporter registered for
// format.
func (tr *Trajectory) Export(format, path string) error {
	exportersMu.RLock()
	e, ok := exporters[format]
	exportersMu.RUnlock()
	if !ok {
		return fmt.Errorf("result: unknown export format %q (available: %v)", format, Formats())
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := e.Export(file, tr); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

type ExportData struct {
	Integrator  string      `json:"integrator,omitempty"`
	Dt          float64     `json:"dt"`
	Steps       int         `json:"steps"`
	Status      Status      `json:"status"`
	StopReason  string      `json:"stop_reason,omitempty"`
	TruncatedAt int         `json:"truncated_at"`
	Violation   string      `json:"violation,omitempty"`
	Times       []float64   `json:"times"`
	States      [][]float64 `json:"states"`
	Controls    [][]float64 `json:"controls"`
	Meta        []StepMeta  `json:"meta,omitempty"`
}

func WriteJSON(w io.Writer, tr *Trajectory) error {
	data := ExportData{
		Integrator:  tr.Integrator,
		Dt:          tr.Dt,
		Steps:       tr.Steps(),
		Status:      tr.Status,
		StopReason:  tr.StopReason,
		TruncatedAt: tr.TruncatedAt,
		Times:       tr.Times(),
		States:      make([][]float64, tr.Len()),
		Controls:    make([][]float64, tr.Steps()),
		Meta:        tr.Meta(),
	}
	if tr.Violation != nil {
		data.Violation = tr.Violation.Error()
	}

	for i, s := range tr.states {
		data.States[i] = s
	}
	for i, c := range tr.controls {
		data.Controls[i] = c
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// WriteCSV writes one row per state: time, x0..xn, then the control applied
// from that state onward (zeros on the final row).
func WriteCSV(w io.Writer, tr *Trajectory) error {
	cw := csv.NewWriter(w)

	if tr.Len() == 0 {
		cw.Flush()
		return cw.Error()
	}

	header := []string{"time"}
	for i := range tr.states[0] {
		header = append(header, fmt.Sprintf("x%d", i))
	}

	numControls := 0
	if len(tr.controls) > 0 {
		numControls = len(tr.controls[0])
		for i := 0; i < numControls; i++ {
			header = append(header, fmt.Sprintf("u%d", i))
		}
	}

	if err := cw.Write(header); err != nil {
		return err
	}

	for i := range tr.states {
		row := []string{strconv.FormatFloat(tr.times[i], 'f', 6, 64)}

		for _, val := range tr.states[i] {
			row = append(row, strconv.FormatFloat(val, 'g', -1, 64))
		}

		if i < len(tr.controls) {
			for _, val := range tr.controls[i] {
				row = append(row, strconv.FormatFloat(val, 'g', -1, 64))
			}
		} else {
			for j := 0; j < numControls; j++ {
				row = append(row, "0")
			}
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
