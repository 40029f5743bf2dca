package dmodel

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Header describes the data a saved model was fitted on.
type Header struct {
	NA    int `json:"n_a"`
	NB    int `json:"n_b"`
	NBase int `json:"n_base"`
}

// File is the persisted form of a model.
type File struct {
	*Model
	Header Header `json:"model"`
	// RunID identifies the search which produced the model.
	RunID string `json:"run_id,omitempty"`
}

// Mode returns the mode the model was fitted with.
func (f *File) Mode() (Mode, error) {
	return ModeFromDims(f.Header.NA, f.Header.NB)
}

// Save writes the model as JSON.
func Save(w io.Writer, m *Model, mode Mode, nBase int, runID string) error {
	f := File{
		Model: m,
		Header: Header{
			NA:    mode.NA(),
			NB:    mode.NB(),
			NBase: nBase,
		},
		RunID: runID,
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encoding model %v: %w", m.ID, err)
	}
	return nil
}

// Load reads a model saved with Save.
func Load(r io.Reader) (*File, error) {
	f := &File{Model: &Model{}}
	if err := json.NewDecoder(r).Decode(f); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	mode, err := f.Mode()
	if err != nil {
		return nil, err
	}
	if f.Categories.NoRec == nil {
		f.Categories.NoRec = map[int]bool{}
	}
	f.Model.Fix(mode.NA())
	if err := f.Model.Check(mode.NA()); err != nil {
		return nil, err
	}
	return f, nil
}

// SaveFile writes the model to a file.
func SaveFile(path string, m *Model, mode Mode, nBase int, runID string) error {
	fout, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Save(fout, m, mode, nBase, runID); err != nil {
		fout.Close()
		return err
	}
	return fout.Close()
}

// LoadFile reads a model from a file.
func LoadFile(path string) (*File, error) {
	fin, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fin.Close()
	return Load(fin)
}
