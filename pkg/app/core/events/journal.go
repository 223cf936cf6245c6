package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/standardweb3/standard-substrate-sub001/pkg/storage"
	"github.com/standardweb3/standard-substrate-sub001/pkg/util"
)

const prefixEvent = "evt:"

func eventStoreKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

// Record is one journal entry: a sequence number, the emission time, and the
// serialized event payload.
type Record struct {
	Seq     uint64          `json:"seq"`
	Time    int64           `json:"time"` // Unix milliseconds
	Kind    Type            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Journal is the ordered, append-only event log. Appends are serialized and
// sequence numbers are dense: a record is staged into the batch of the
// operation that produced it, so the durable log never develops gaps, and a
// discarded stage releases its sequence number to the next append. A sink
// callback, when set, receives each record after it is committed (used for
// WebSocket streaming).
type Journal struct {
	mu      sync.RWMutex
	records []Record
	nextSeq uint64
	sink    func(Record)

	store *storage.Store
	clock util.Clock
	log   *zap.Logger
}

// NewJournal creates a journal, restoring prior records from the store.
func NewJournal(store *storage.Store, clock util.Clock, logger *zap.Logger) (*Journal, error) {
	j := &Journal{
		store: store,
		clock: clock,
		log:   logger,
	}

	err := store.ScanPrefix([]byte(prefixEvent), func(_, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		j.records = append(j.records, rec)
		j.nextSeq = rec.Seq + 1
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load event journal: %w", err)
	}
	return j, nil
}

// SetSink installs a callback invoked for every appended record.
func (j *Journal) SetSink(fn func(Record)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sink = fn
}

// Staged is a journal record written into an operation's batch but not yet
// published. The journal stays locked until Publish or Discard.
type Staged struct {
	j    *Journal
	rec  Record
	done bool
}

// Stage reserves the next sequence number and writes the record into batch,
// so the record commits durably with the rest of the operation's writes.
// Callers defer Discard immediately and call Publish only after the batch
// has committed.
func (j *Journal) Stage(batch *storage.Batch, ev Event) (*Staged, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		j.log.Error("failed to marshal event", zap.String("kind", string(ev.Type())), zap.Error(err))
		payload = []byte("{}")
	}

	j.mu.Lock()
	rec := Record{
		Seq:     j.nextSeq,
		Time:    j.clock.Now().UnixMilli(),
		Kind:    ev.Type(),
		Payload: payload,
	}
	if err := batch.PutJSON(eventStoreKey(rec.Seq), rec); err != nil {
		j.mu.Unlock()
		return nil, err
	}
	return &Staged{j: j, rec: rec}, nil
}

// Publish appends the staged record in memory and notifies the sink. Call
// only after the enclosing batch has committed.
func (s *Staged) Publish() Record {
	s.j.nextSeq = s.rec.Seq + 1
	s.j.records = append(s.j.records, s.rec)
	sink := s.j.sink
	s.done = true
	s.j.mu.Unlock()

	if sink != nil {
		sink(s.rec)
	}
	return s.rec
}

// Discard releases the journal without recording. The reserved sequence
// number is reused by the next append. No-op after Publish.
func (s *Staged) Discard() {
	if s.done {
		return
	}
	s.done = true
	s.j.mu.Unlock()
}

// Append records an event through its own single-record batch. Used where no
// larger operation batch exists; engine operations stage instead.
func (j *Journal) Append(ev Event) Record {
	batch := j.store.NewBatch()
	defer batch.Close()

	staged, err := j.Stage(batch, ev)
	if err != nil {
		j.log.Error("failed to stage event", zap.String("kind", string(ev.Type())), zap.Error(err))
		return Record{}
	}
	if err := batch.Commit(); err != nil {
		staged.Discard()
		j.log.Error("failed to persist event", zap.String("kind", string(ev.Type())), zap.Error(err))
		return Record{}
	}
	return staged.Publish()
}

// List returns up to limit records with Seq >= after. A limit of 0 means no
// cap.
func (j *Journal) List(after uint64, limit int) []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Record, 0)
	for _, rec := range j.records {
		if rec.Seq < after {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the number of journaled records.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}
