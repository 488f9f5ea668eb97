package core

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"GebLedger/internal/store"
)

const GenesisHashSeed = "GebLedger:genesis:v1"

// StateHasher chains a hash over every committed unit of work.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &StateHasher{
		prevHash: genesis,
	}
}

// Next calculates state_hash = SHA-256(prev_hash || block || log_index || digest)
// without advancing the chain; call Advance once the unit of work commits.
func (h *StateHasher) Next(block uint64, logIndex uint, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], block)
	hasher.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(logIndex))
	hasher.Write(buf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Advance makes hash the new chain tip.
func (h *StateHasher) Advance(hash [32]byte) {
	h.prevHash = hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// StateDigest hashes a set of staged records in key order, so the digest
// does not depend on the order handlers saved them in.
func StateDigest(records []store.Record) []byte {
	sorted := make([]store.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key.String() < sorted[j].Key.String()
	})

	hasher := sha256.New()
	var lenBuf [4]byte
	for _, r := range sorted {
		for _, part := range [][]byte{[]byte(r.Key.Kind), []byte(r.Key.ID), r.Data} {
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(part)))
			hasher.Write(lenBuf[:])
			hasher.Write(part)
		}
	}
	return hasher.Sum(nil)
}
