package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// ErrJournalTampered is returned by Verify when an entry's recorded hash
// does not match its recomputed hash chain.
var ErrJournalTampered = errors.New("journal hash chain broken")

// JournalEntry is one link in the ledger's tamper-evident event log. Hash
// covers the CBOR-encoded event plus the previous entry's hash, so editing
// any historical entry invalidates every later one.
type JournalEntry struct {
	Seq          uint64 `json:"seq"`
	Payload      []byte `json:"payload"` // CBOR-encoded Event
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// Journal is an append-only, hash-chained record of ledger events.
type Journal struct {
	mu      sync.RWMutex
	entries []JournalEntry
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Append encodes the event and links it to the chain.
func (j *Journal) Append(ev Event) error {
	payload, err := cbor.Marshal(ev)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	prev := ""
	if n := len(j.entries); n > 0 {
		prev = j.entries[n-1].Hash
	}
	entry := JournalEntry{
		Seq:          uint64(len(j.entries)),
		Payload:      payload,
		PreviousHash: prev,
		Hash:         chainHash(prev, payload),
	}
	j.entries = append(j.entries, entry)
	return nil
}

// Len returns the number of entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Entries returns a copy of the journal.
func (j *Journal) Entries() []JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]JournalEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Events decodes and returns every journaled event in order.
func (j *Journal) Events() ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	events := make([]Event, 0, len(j.entries))
	for _, entry := range j.entries {
		var ev Event
		if err := cbor.Unmarshal(entry.Payload, &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Verify recomputes the hash chain and returns ErrJournalTampered at the
// first mismatch.
func (j *Journal) Verify() error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	prev := ""
	for _, entry := range j.entries {
		if entry.PreviousHash != prev || entry.Hash != chainHash(prev, entry.Payload) {
			return ErrJournalTampered
		}
		prev = entry.Hash
	}
	return nil
}

// chainHash hashes the previous hash concatenated with the payload.
func chainHash(prev string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
