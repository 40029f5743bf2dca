// checkpoint creates CheckpointIO which saves and restores the best
// model of a search.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"

	"github.com/mrrlab/divhmm/dmodel"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// MAIN is the bucket name for all checkpoints.
var MAIN = []byte("main")

// CheckpointData stores checkpoint data.
type CheckpointData struct {
	Model      json.RawMessage
	Likelihood float64
	Iter       int
	Final      bool
}

// CheckpointIO saves checkpoints.
type CheckpointIO struct {
	db      *bolt.DB
	key     []byte
	mode    dmodel.Mode
	nBase   int
	last    time.Time
	seconds float64
}

// NewCheckpointIO creates a new CheckpointIO. Models are stored
// under key, intermediate checkpoints are written at most every
// seconds.
func NewCheckpointIO(db *bolt.DB, key []byte, mode dmodel.Mode, nBase int, seconds float64) (s *CheckpointIO) {
	s = &CheckpointIO{
		db:      db,
		key:     key,
		mode:    mode,
		nBase:   nBase,
		seconds: seconds,
	}
	return
}

// Save saves the model. Intermediate checkpoints are skipped if the
// previous one is too recent.
func (s *CheckpointIO) Save(m *dmodel.Model, iter int, final bool) error {
	if !final && !s.Old() {
		return nil
	}
	// Even if saving fails, we do not want to run this code too often.
	s.SetNow()
	buf := &bytes.Buffer{}
	if err := dmodel.Save(buf, m, s.mode, s.nBase, string(s.key)); err != nil {
		log.Error("Error serializing model", err)
		return err
	}
	data := &CheckpointData{
		Model:      buf.Bytes(),
		Likelihood: m.Probability,
		Iter:       iter,
		Final:      final,
	}
	dataB, err := json.Marshal(data)
	if err != nil {
		log.Error("Error serializing checkpoint", err)
		return err
	}
	err = SaveData(s.db, s.key, dataB)
	if err != nil {
		log.Error("Error saving checkpoint", err)
	}
	return err
}

// GetModel returns the model stored in the checkpoint, nil if there
// is no checkpoint.
func (s *CheckpointIO) GetModel() (*dmodel.File, *CheckpointData, error) {
	var data *CheckpointData

	b, err := LoadData(s.db, s.key)

	if err != nil || b == nil {
		return nil, nil, err
	}

	err = json.Unmarshal(b, &data)

	if err != nil {
		return nil, nil, err
	}

	if data == nil || len(data.Model) == 0 {
		return nil, nil, nil
	}

	f, err := dmodel.Load(bytes.NewReader(data.Model))
	if err != nil {
		return nil, nil, err
	}

	if data.Final {
		log.Noticef("Found finished search checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	} else {
		log.Noticef("Found unfinished search checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	}

	return f, data, nil
}

// Old returns true if last checkpoint save time too long ago.
func (s *CheckpointIO) Old() bool {
	return time.Since(s.last).Seconds() >= s.seconds
}

// SetNow sets last checkpoint time to now.
func (s *CheckpointIO) SetNow() {
	s.last = time.Now()
}

// SaveData saves values in bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}

		err = b.Put(key, data)
		return err
	})
	return err
}

// LoadData loads data from bolt database.
func LoadData(db *bolt.DB, key []byte) ([]byte, error) {
	var data []byte
	if db == nil {
		return nil, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}

		// values are only valid inside the transaction
		if v := b.Get(key); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Keys returns all the run ids stored in the database.
func Keys(db *bolt.DB) (keys []string, err error) {
	if db == nil {
		return nil, nil
	}
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return
}
