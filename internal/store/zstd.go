package store

import (
	"github.com/klauspost/compress/zstd"
)

// ZstdHooks returns a compress/decompress pair backed by klauspost/compress,
// suitable for Store.WithCompression. Every item written to the backend is
// independently zstd-compressed and transparently decompressed on load;
// callers that don't want particular keys touched should filter them
// themselves (the hooks receive the key precisely so they can).
func ZstdHooks() (CompressFunc, DecompressFunc, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, nil, err
	}

	compress := func(key string, data []byte) []byte {
		return enc.EncodeAll(data, make([]byte, 0, len(data)))
	}
	decompress := func(key string, data []byte) []byte {
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			// Pre-compression data (written before hooks were installed)
			// isn't zstd-framed; fall back to it verbatim.
			return data
		}
		return out
	}
	return compress, decompress, nil
}
