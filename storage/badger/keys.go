package badger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/poiesic/civicrag/core"
)

// Key prefixes for different data types
const (
	sourcePrefix      = "src:" // src:<type>:<external id> -> SourceRecord
	sourceIDPrefix    = "sid:" // sid:<source id> -> source key
	fingerprintPrefix = "fp:"  // fp:<hex fingerprint>:<source id> -> empty, processed sources only
	chunkPrefix       = "chk:" // chk:<source id>\x00<seq> -> ChunkRecord
	logPrefix         = "log:" // log:<sequence> -> LogRecord
	logSeq            = "logseq"
)

// makeSourceKey generates the primary key of a source from its natural key.
func makeSourceKey(key core.SourceKey) []byte {
	return []byte(sourcePrefix + string(key.Type) + ":" + key.ExternalID)
}

// makeSourceIDKey generates the key of the ID -> natural key index.
func makeSourceIDKey(id string) []byte {
	return []byte(sourceIDPrefix + id)
}

// makeFingerprintKey generates the key of the fingerprint index.
// Format: prefix:fingerprint:id
func makeFingerprintKey(fp core.Fingerprint, id string) []byte {
	return []byte(fingerprintPrefix + hex.EncodeToString(fp[:]) + ":" + id)
}

// makePartialFingerprintKey generates a prefix matching every source with fp.
func makePartialFingerprintKey(fp core.Fingerprint) []byte {
	return []byte(fingerprintPrefix + hex.EncodeToString(fp[:]) + ":")
}

// parseFingerprintKey splits a fingerprint index key into its parts.
func parseFingerprintKey(key []byte) (core.Fingerprint, string, error) {
	const hexLen = 2 * core.FingerprintSize
	rest := key[len(fingerprintPrefix):]
	if len(rest) < hexLen+1 || rest[hexLen] != ':' {
		return core.Fingerprint{}, "", fmt.Errorf("malformed fingerprint key %q", key)
	}
	fp, err := core.ParseFingerprint(string(rest[:hexLen]))
	if err != nil {
		return core.Fingerprint{}, "", err
	}
	return fp, string(rest[hexLen+1:]), nil
}

// makeChunkKey generates a composite key for a chunk.
// The NUL separator sorts below every other byte, so keys order by (source id, seq);
// seq is written in BigEndian order so lexicographic sort works correctly.
func makeChunkKey(sourceID string, seq int) []byte {
	prefix := makePartialChunkKey(sourceID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(seq))
	return buf
}

// makePartialChunkKey generates a prefix matching every chunk of a source.
func makePartialChunkKey(sourceID string) []byte {
	return []byte(chunkPrefix + sourceID + "\x00")
}

// makeLogKey generates the key of an ingestion log entry.
func makeLogKey(id uint64) []byte {
	buf := make([]byte, len(logPrefix)+8)
	offset := copy(buf, logPrefix)
	binary.BigEndian.PutUint64(buf[offset:], id)
	return buf
}
