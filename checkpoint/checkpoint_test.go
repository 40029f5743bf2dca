package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"

	"github.com/mrrlab/divhmm/dmodel"
)

func init() {
	logging.SetLevel(logging.ERROR, "checkpoint")
}

func openDB(tst *testing.T) *bolt.DB {
	dir, err := os.MkdirTemp("", "checkpoint")
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	tst.Cleanup(func() { os.RemoveAll(dir) })
	db, err := bolt.Open(filepath.Join(dir, "test.db"), 0666, nil)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	tst.Cleanup(func() { db.Close() })
	return db
}

func testModel() *dmodel.Model {
	cats, _ := dmodel.NewCategories(2)
	return &dmodel.Model{
		Theta:       []float64{0.9},
		R:           [][]float64{{0.01}},
		Delta:       []float64{0.02},
		Delta2:      []float64{0.03},
		V:           []float64{0.3},
		V2:          []float64{0.4},
		H:           [2]float64{0.1, 0.5},
		EventFreq:   []float64{0.1, 0.2},
		Probability: -1234.5,
		Diff:        0.5,
		ID:          2,
		Categories:  cats,
	}
}

func TestLoadData(tst *testing.T) {
	db := openDB(tst)
	if err := SaveData(db, []byte("k"), []byte("value")); err != nil {
		tst.Fatal("Error: ", err)
	}
	b, err := LoadData(db, []byte("k"))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if string(b) != "value" {
		tst.Error("Expected value, got ", string(b))
	}
	b, err = LoadData(db, []byte("missing"))
	if err != nil || b != nil {
		tst.Error("Expected no data, got ", b, err)
	}
}

func TestSaveModel(tst *testing.T) {
	db := openDB(tst)
	c := NewCheckpointIO(db, []byte("run"), dmodel.LEGACY, 1000, 0)

	f, data, err := c.GetModel()
	if err != nil || f != nil || data != nil {
		tst.Fatal("Expected empty checkpoint, got ", f, data, err)
	}

	m := testModel()
	if err := c.Save(m, 5, false); err != nil {
		tst.Fatal("Error: ", err)
	}
	f, data, err = c.GetModel()
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if data.Iter != 5 || data.Final || data.Likelihood != m.Probability {
		tst.Error("Wrong checkpoint data: ", data)
	}
	if f.ID != m.ID || f.Probability != m.Probability || f.RunID != "run" || f.Header.NBase != 1000 {
		tst.Error("Wrong model: ", f.Model)
	}
	mode, err := f.Mode()
	if err != nil || mode != dmodel.LEGACY {
		tst.Error("Expected legacy mode, got ", mode, err)
	}

	keys, err := Keys(db)
	if err != nil || len(keys) != 1 || keys[0] != "run" {
		tst.Error("Wrong keys: ", keys, err)
	}
}

func TestSaveThrottle(tst *testing.T) {
	db := openDB(tst)
	c := NewCheckpointIO(db, []byte("run"), dmodel.LEGACY, 1000, 3600)
	c.SetNow()
	m := testModel()
	if err := c.Save(m, 1, false); err != nil {
		tst.Fatal("Error: ", err)
	}
	if f, _, _ := c.GetModel(); f != nil {
		tst.Error("Expected intermediate checkpoint to be skipped")
	}
	if err := c.Save(m, 2, true); err != nil {
		tst.Fatal("Error: ", err)
	}
	_, data, err := c.GetModel()
	if err != nil || data == nil || !data.Final || data.Iter != 2 {
		tst.Error("Expected final checkpoint, got ", data, err)
	}
}

func TestKeys(tst *testing.T) {
	db := openDB(tst)
	keys, err := Keys(db)
	if err != nil || len(keys) != 0 {
		tst.Error("Expected no keys, got ", keys, err)
	}
	for _, k := range []string{"run2", "run1"} {
		if err := SaveData(db, []byte(k), []byte("{}")); err != nil {
			tst.Fatal("Error: ", err)
		}
	}
	keys, err = Keys(db)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(keys) != 2 || keys[0] != "run1" || keys[1] != "run2" {
		tst.Error("Expected [run1 run2], got ", keys)
	}
}
