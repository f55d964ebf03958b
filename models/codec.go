package models

import (
	"github.com/rohanthewiz/serr"
	"github.com/vmihailenco/msgpack/v5"
)

// Entities and the file-hash map are stored as msgpack rather than JSON.
// The JSON form is the wire contract of the sync directory and is owned
// by syncpub; keeping the storage encoding separate means a wire change
// never forces a data migration.

func encodePayload(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, serr.Wrap(err, "failed to msgpack encode payload")
	}
	return b, nil
}

func decodePayload(b []byte, dst any) error {
	if err := msgpack.Unmarshal(b, dst); err != nil {
		return serr.Wrap(err, "failed to msgpack decode payload")
	}
	return nil
}

// encodeFileHashes encodes the path->digest map. A nil or empty map is
// stored as NULL.
func encodeFileHashes(hashes map[string]string) ([]byte, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	return encodePayload(hashes)
}

func decodeFileHashes(b []byte) (map[string]string, error) {
	hashes := make(map[string]string)
	if len(b) == 0 {
		return hashes, nil
	}
	if err := decodePayload(b, &hashes); err != nil {
		return nil, serr.Wrap(err, "failed to decode file hashes")
	}
	return hashes, nil
}
