package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

// ErrCorruptCheckpoint indicates the stored digest does not match the payload.
var ErrCorruptCheckpoint = errors.New("storage: checkpoint digest mismatch")

type checkpointRecord struct {
	Sequence uint64
	Digest   [32]byte
	Payload  []byte
}

func checkpointKey(name string) []byte {
	return []byte("checkpoint/" + name)
}

// WriteCheckpoint persists payload under name together with a blake3 digest
// and a caller-supplied sequence number.
func WriteCheckpoint(db Database, name string, sequence uint64, payload []byte) error {
	if db == nil {
		return errors.New("storage: database not configured")
	}
	record := checkpointRecord{
		Sequence: sequence,
		Digest:   blake3.Sum256(payload),
		Payload:  payload,
	}
	encoded, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return db.Put(checkpointKey(name), encoded)
}

// ReadCheckpoint loads and verifies the latest checkpoint stored under name.
func ReadCheckpoint(db Database, name string) (uint64, []byte, error) {
	if db == nil {
		return 0, nil, errors.New("storage: database not configured")
	}
	encoded, err := db.Get(checkpointKey(name))
	if err != nil {
		return 0, nil, err
	}
	var record checkpointRecord
	if err := rlp.DecodeBytes(encoded, &record); err != nil {
		return 0, nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	digest := blake3.Sum256(record.Payload)
	if !bytes.Equal(digest[:], record.Digest[:]) {
		return 0, nil, ErrCorruptCheckpoint
	}
	return record.Sequence, record.Payload, nil
}
