package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flashbots/mev-bidder/types"
	"go.etcd.io/bbolt"
)

const (
	boltFileName = "journal.db"
	slotKeyLen   = 8
)

var reportsBucket = []byte("dispatch_reports")

// BoltJournal persists reports in a bbolt database. Keys are slot (big endian) | block hash | report ID,
// so the reports of a slot are contiguous.
type BoltJournal struct {
	db *bbolt.DB
}

// OpenBoltJournal opens or creates the journal database inside dir
func OpenBoltJournal(dir string) (*BoltJournal, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create journal directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, boltFileName), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open journal: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(reportsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not create journal bucket: %w", err)
	}
	return &BoltJournal{db: db}, nil
}

func reportKey(report *types.DispatchReport) []byte {
	key := make([]byte, 0, slotKeyLen+len(report.BlockHash)+len(report.ID))
	key = binary.BigEndian.AppendUint64(key, report.Slot)
	key = append(key, report.BlockHash[:]...)
	return append(key, report.ID[:]...)
}

func slotPrefix(slot uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, slotKeyLen), slot)
}

func (j *BoltJournal) Put(report *types.DispatchReport) error {
	if report == nil {
		return ErrNilReport
	}
	value, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("could not marshal report: %w", err)
	}

	err = j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(reportsBucket).Put(reportKey(report), value)
	})
	return mapBoltError(err)
}

func (j *BoltJournal) BySlot(slot uint64) ([]*types.DispatchReport, error) {
	prefix := slotPrefix(slot)
	out := make([]*types.DispatchReport, 0)

	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(reportsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			report := new(types.DispatchReport)
			if err := json.Unmarshal(v, report); err != nil {
				return fmt.Errorf("could not unmarshal report %x: %w", k, err)
			}
			out = append(out, report)
		}
		return nil
	})
	if err != nil {
		return nil, mapBoltError(err)
	}
	sortReports(out)
	return out, nil
}

func (j *BoltJournal) Prune(slot uint64) (int, error) {
	limit := slotPrefix(slot)
	deleted := 0

	err := j.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(reportsBucket).Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:slotKeyLen], limit) < 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, mapBoltError(err)
}

func (j *BoltJournal) Close() error {
	return j.db.Close()
}

func mapBoltError(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
