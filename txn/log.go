package txn

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/raven-os/nest/plan"
)

var logBucket = []byte("operations")

// Entry is one append-only record of the operation log (spec §3, §4.4):
// an id, the timestamp the operation completed at, the command that
// produced it, the plan that was applied, and a snapshot of the graph
// that resulted — the snapshot is what makes reverse(id) able to restore
// "the state as of the completion of operation id" exactly, rather than
// trying to reconstruct it by replaying inverse plans alone.
type Entry struct {
	ID            uint64          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Command       string          `json:"command"`
	Plan          plan.Plan       `json:"plan"`
	GraphSnapshot json.RawMessage `json:"graph_snapshot"`
}

// OperationLog is the append-only, crash-surviving record of every applied
// plan, keyed by a strictly increasing id — a bolt bucket keyed by an
// 8-byte big-endian encoding of bolt's own NextSequence(), mirroring the
// teacher's source_cache_bolt.go encoding helpers, so reverse(N)'s
// truncation is a plain bolt range-delete.
type OperationLog struct {
	db *bolt.DB
}

// OpenLog opens (creating if necessary) the bolt-backed operation log at
// path.
func OpenLog(path string) (*OperationLog, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening operation log %q", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &OperationLog{db: db}, nil
}

// Close releases the underlying bolt database.
func (l *OperationLog) Close() error {
	return l.db.Close()
}

func encodeID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// Append writes a new entry with a fresh monotonically-increasing id.
func (l *OperationLog) Append(command string, p *plan.Plan, graphSnapshot []byte) (uint64, error) {
	var id uint64
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		entry := Entry{ID: id, Timestamp: time.Now().UTC(), Command: command, Plan: *p, GraphSnapshot: graphSnapshot}
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(encodeID(id), raw)
	})
	return id, err
}

// Entries returns every log entry, ordered oldest to newest.
func (l *OperationLog) Entries() ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// EntriesSince returns every entry with id > n, newest first — the order
// reverse(n) needs to walk them in.
func (l *OperationLog) EntriesSince(n uint64) ([]Entry, error) {
	all, err := l.Entries()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ID > n {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// TruncateAfter deletes every entry with id > n, keeping n itself, after a
// successful reverse(n).
func (l *OperationLog) TruncateAfter(n uint64) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if binary.BigEndian.Uint64(k) > n {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
