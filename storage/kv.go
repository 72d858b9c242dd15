package storage

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"
)

// KV layers RLP encoding over a Database. It satisfies the state accessor
// interfaces consumed by the native registries.
type KV struct {
	db Database
}

func NewKV(db Database) *KV {
	return &KV{db: db}
}

// KVGet decodes the value stored under key into out. ok is false when the key
// is absent.
func (k *KV) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, err := k.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (k *KV) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return k.db.Put(key, encoded)
}

func (k *KV) KVDelete(key []byte) error {
	return k.db.Delete(key)
}
