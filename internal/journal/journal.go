// Package journal is the durable key-value store backing OpticalSend
// sessions and blocks: two tables (blocks, sessions), each with the
// secondary indexes the spec calls for, so a paused or crashed transfer
// can be resumed exactly where it left off.
//
// It is built on github.com/glycerine/bbolt, the embedded B+tree store
// this module's teacher uses for its own durable state (see
// tube/bolt.go there). All multi-row operations run inside a single
// bbolt read-write transaction, giving the single-row transactional
// guarantee the spec requires without any extra locking of our own.
package journal

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "github.com/glycerine/bbolt"
	gjson "github.com/goccy/go-json"
)

var (
	bucketBlocks         = []byte("blocks")
	bucketSessions       = []byte("sessions")
	bucketBlocksByState  = []byte("blocks_by_state")
	bucketSessionsByFile = []byte("sessions_by_file")
)

// StoredBlock is one row of the blocks table, keyed by (FileID, Seq).
type StoredBlock struct {
	FileID       string
	Seq          int
	Header       []byte // serialized BlockHeader (opaque to the journal)
	Payload      []byte // encrypted payload
	Decompressed []byte // present only after successful receive
	State        string
}

// StoredSession is one row of the sessions table, keyed by SessionID.
type StoredSession struct {
	SessionID              string
	FileID                 string
	Role                   string
	Filename               string
	TotalSize              int64
	TotalBlocks            int
	SymmetricKeyDerivative string
	State                  string
	ErrorReason            string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Journal wraps a bbolt database file with the block/session schema.
type Journal struct {
	db *bolt.DB
}

// Open creates or opens the journal at path, creating its buckets if
// this is a fresh file.
func Open(path string) (*Journal, error) {
	o := bolt.DefaultOptions
	o.FreelistType = bolt.FreelistArrayType
	db, err := bolt.Open(path, 0600, o)
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	j := &Journal{db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketSessions, bucketBlocksByState, bucketSessionsByFile} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal init buckets: %w", err)
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// blockKey packs (fileID, seq) into a sortable key: fileID, a NUL
// separator (illegal in our base64/UUID-shaped file ids), then the
// sequence as a fixed-width big-endian uint64, so a per-file prefix
// scan naturally yields ascending sequence order even though callers
// are told (per spec) to re-sort defensively.
func blockKey(fileID string, seq int) []byte {
	k := make([]byte, 0, len(fileID)+1+8)
	k = append(k, []byte(fileID)...)
	k = append(k, 0)
	var seqB [8]byte
	binary.BigEndian.PutUint64(seqB[:], uint64(seq))
	return append(k, seqB[:]...)
}

func blockPrefix(fileID string) []byte {
	return append([]byte(fileID), 0)
}

func stateKey(state, fileID string, seq int) []byte {
	k := make([]byte, 0, len(state)+1+len(fileID)+1+8)
	k = append(k, []byte(state)...)
	k = append(k, 0)
	k = append(k, []byte(fileID)...)
	k = append(k, 0)
	var seqB [8]byte
	binary.BigEndian.PutUint64(seqB[:], uint64(seq))
	return append(k, seqB[:]...)
}

// PutBlock is idempotent on the primary key (fileID, seq): a repeated
// put for the same pair overwrites the prior row and its state index
// entry rather than duplicating it.
func (j *Journal) PutBlock(b StoredBlock) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return putBlockTx(tx, b)
	})
}

func putBlockTx(tx *bolt.Tx, b StoredBlock) error {
	blocks := tx.Bucket(bucketBlocks)
	byState := tx.Bucket(bucketBlocksByState)

	key := blockKey(b.FileID, b.Seq)

	// clear any prior state-index entry for this row before writing
	// the new one, since PutBlock may change State.
	if existing := blocks.Get(key); existing != nil {
		var prior StoredBlock
		if err := gjson.Unmarshal(existing, &prior); err == nil {
			byState.Delete(stateKey(prior.State, prior.FileID, prior.Seq))
		}
	}

	enc, err := gjson.Marshal(b)
	if err != nil {
		return err
	}
	if err := blocks.Put(key, enc); err != nil {
		return err
	}
	return byState.Put(stateKey(b.State, b.FileID, b.Seq), []byte{1})
}

// UpdateBlockState transitions an existing row's State in place,
// preserving its Header/Payload/Decompressed fields, so a bare
// completed/failed/skipped transition never clobbers the ciphertext a
// later retransmit or resume might still need. If no row exists yet
// for (fileID, seq), one is created with only State set.
func (j *Journal) UpdateBlockState(fileID string, seq int, state string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		key := blockKey(fileID, seq)
		blk := StoredBlock{FileID: fileID, Seq: seq}
		if existing := blocks.Get(key); existing != nil {
			if err := gjson.Unmarshal(existing, &blk); err != nil {
				return err
			}
		}
		blk.State = state
		return putBlockTx(tx, blk)
	})
}

func (j *Journal) GetBlock(fileID string, seq int) (blk StoredBlock, found bool, err error) {
	err = j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(blockKey(fileID, seq))
		if v == nil {
			return nil
		}
		found = true
		return gjson.Unmarshal(v, &blk)
	})
	return
}

// GetBlocksForFile returns every row for fileID, unordered per spec;
// callers must re-sort by Seq.
func (j *Journal) GetBlocksForFile(fileID string) (out []StoredBlock, err error) {
	err = j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		prefix := blockPrefix(fileID)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var blk StoredBlock
			if err := gjson.Unmarshal(v, &blk); err != nil {
				return err
			}
			out = append(out, blk)
		}
		return nil
	})
	return
}

// CountBlocksInState counts rows for fileID whose State equals state,
// using the state secondary index rather than a full table scan.
func (j *Journal) CountBlocksInState(fileID, state string) (n int, err error) {
	err = j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocksByState).Cursor()
		prefix := append([]byte(state), 0)
		prefix = append(prefix, []byte(fileID)...)
		prefix = append(prefix, 0)
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			n++
		}
		return nil
	})
	return
}

func (j *Journal) DeleteBlocksForFile(fileID string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		byState := tx.Bucket(bucketBlocksByState)
		c := blocks.Cursor()
		prefix := blockPrefix(fileID)
		var keys [][]byte
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var blk StoredBlock
			if err := gjson.Unmarshal(v, &blk); err != nil {
				return err
			}
			byState.Delete(stateKey(blk.State, blk.FileID, blk.Seq))
			keys = append(keys, append([]byte{}, k...))
		}
		for _, k := range keys {
			if err := blocks.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (j *Journal) PutSession(s StoredSession) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		byFile := tx.Bucket(bucketSessionsByFile)

		key := []byte(s.SessionID)
		if existing := sessions.Get(key); existing != nil {
			var prior StoredSession
			if err := gjson.Unmarshal(existing, &prior); err == nil && prior.FileID != s.FileID {
				byFile.Delete(sessionFileKey(prior.FileID, prior.SessionID))
			}
		}

		enc, err := gjson.Marshal(s)
		if err != nil {
			return err
		}
		if err := sessions.Put(key, enc); err != nil {
			return err
		}
		return byFile.Put(sessionFileKey(s.FileID, s.SessionID), []byte{1})
	})
}

func sessionFileKey(fileID, sessionID string) []byte {
	k := append([]byte(fileID), 0)
	return append(k, []byte(sessionID)...)
}

func (j *Journal) GetSession(sessionID string) (s StoredSession, found bool, err error) {
	err = j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSessions).Get([]byte(sessionID))
		if v == nil {
			return nil
		}
		found = true
		return gjson.Unmarshal(v, &s)
	})
	return
}

func (j *Journal) GetAllSessions() (out []StoredSession, err error) {
	err = j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			var s StoredSession
			if err := gjson.Unmarshal(v, &s); err != nil {
				return err
			}
			out = append(out, s)
			return nil
		})
	})
	return
}

// GetSessionsForFile finds every session ever opened against fileID,
// used by resume-after-restart (section 4.6.5) to locate a paused or
// active session whose key fingerprint might match a freshly derived
// key.
func (j *Journal) GetSessionsForFile(fileID string) (out []StoredSession, err error) {
	err = j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSessionsByFile).Cursor()
		prefix := append([]byte(fileID), 0)
		sessions := tx.Bucket(bucketSessions)
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			sessionID := k[len(prefix):]
			v := sessions.Get(sessionID)
			if v == nil {
				continue
			}
			var s StoredSession
			if err := gjson.Unmarshal(v, &s); err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	return
}

func (j *Journal) DeleteSession(sessionID string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		byFile := tx.Bucket(bucketSessionsByFile)
		v := sessions.Get([]byte(sessionID))
		if v == nil {
			return nil
		}
		var s StoredSession
		if err := gjson.Unmarshal(v, &s); err != nil {
			return err
		}
		byFile.Delete(sessionFileKey(s.FileID, s.SessionID))
		return sessions.Delete([]byte(sessionID))
	})
}

// ClearAll wipes every bucket. Used by tests and by an operator-driven
// "forget everything" reset; never called by the transfer engine
// itself.
func (j *Journal) ClearAll() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketSessions, bucketBlocksByState, bucketSessionsByFile} {
			if err := tx.DeleteBucket(b); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
