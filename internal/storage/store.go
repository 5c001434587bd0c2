// Package storage keeps finished runs on disk, one directory per run.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/dipsim/internal/result"
)

type Store struct {
	baseDir string
	now     func() time.Time
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunInfo describes how a run was set up.
type RunInfo struct {
	Plant      string   `json:"plant"`
	Integrator string   `json:"integrator"`
	Controller string   `json:"controller"`
	Mode       string   `json:"mode"`
	Seed       int64    `json:"seed"`
	Dt         float64  `json:"dt"`
	Horizon    int      `json:"horizon"`
	UMax       *float64 `json:"u_max,omitempty"`
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Timestamp   time.Time          `json:"timestamp"`
	Info        RunInfo            `json:"info"`
	Status      result.Status      `json:"status"`
	StopReason  string             `json:"stop_reason,omitempty"`
	Steps       int                `json:"steps"`
	TruncatedAt int                `json:"truncated_at"`
	Violation   string             `json:"violation,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Save writes metadata.json and states.csv for tr and returns the run id.
func (s *Store) Save(info RunInfo, tr *result.Trajectory, metrics map[string]float64) (string, error) {
	if tr == nil {
		return "", errors.New("storage: nil trajectory")
	}
	now := s.now()
	runID := fmt.Sprintf("%s_%s_%s", info.Mode, now.Format("20060102-150405"), uuid.NewString()[:8])
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:          runID,
		Timestamp:   now,
		Info:        info,
		Status:      tr.Status,
		StopReason:  tr.StopReason,
		Steps:       tr.Steps(),
		TruncatedAt: tr.TruncatedAt,
		Metrics:     metrics,
	}
	if tr.Violation != nil {
		meta.Violation = tr.Violation.Error()
	}

	if err := writeFile(filepath.Join(runDir, "metadata.json"), func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		return "", err
	}

	if err := writeFile(filepath.Join(runDir, "states.csv"), func(f *os.File) error {
		return result.WriteCSV(f, tr)
	}); err != nil {
		return "", err
	}

	return runID, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List returns the stored runs, newest first. Directories without readable
// metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: run %s: %w", runID, err)
	}

	return &meta, nil
}

// States is the table read back from states.csv.
type States struct {
	Times    []float64
	States   [][]float64
	Controls [][]float64
}

func (s *Store) LoadStates(runID string) (*States, error) {
	csvPath := filepath.Join(s.baseDir, runID, "states.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	out := &States{}
	if len(records) < 2 {
		return out, nil
	}

	header := records[0]
	nx := 0
	for _, col := range header[1:] {
		if strings.HasPrefix(col, "x") {
			nx++
		}
	}

	for i, record := range records[1:] {
		vals := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("storage: states.csv row %d column %d: %w", i+1, j, err)
			}
			vals[j] = v
		}
		out.Times = append(out.Times, vals[0])
		out.States = append(out.States, vals[1:1+nx])
		out.Controls = append(out.Controls, vals[1+nx:])
	}

	return out, nil
}
