package marketplace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"builderbuddy-backend/core/marketplace"
)

// EncodeSnapshot writes snap as zstd-compressed JSON.
func EncodeSnapshot(snap marketplace.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(enc).Encode(&snap); err != nil {
		enc.Close()
		return nil, fmt.Errorf("json encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(data []byte) (marketplace.Snapshot, error) {
	var snap marketplace.Snapshot
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return snap, err
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return snap, fmt.Errorf("zstd decode: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	if snap.Version != marketplace.SnapshotVersion {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap, nil
}
