package core

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// FingerprintSize is the size in bytes of a content fingerprint (BLAKE2b-256).
const FingerprintSize = 32

// Fingerprint is a content hash of canonical text.
// Identical canonical text always produces the identical fingerprint.
type Fingerprint [FingerprintSize]byte

// FingerprintOf hashes canonical text with BLAKE2b-256.
func FingerprintOf(text string) Fingerprint {
	h, _ := blake2b.New(FingerprintSize, nil) // only fails for invalid sizes or oversized keys
	h.Write([]byte(text))
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// ParseFingerprint decodes a hex encoded fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, err
	}
	if len(b) != FingerprintSize {
		return fp, fmt.Errorf("fingerprint must be %d bytes, got %d", FingerprintSize, len(b))
	}
	copy(fp[:], b)
	return fp, nil
}

// String returns the hex encoding of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// NewSourceID generates a new random source identifier.
func NewSourceID() string {
	return uuid.NewString()
}

// SourceType identifies the kind of collaborator a source was fetched from.
type SourceType string

const (
	SourceTypeGovernment SourceType = "government"
	SourceTypeMedia      SourceType = "media"
	SourceTypeYouTube    SourceType = "youtube"
	SourceTypeSocial     SourceType = "social"
)

// SourceTypes lists every known source type in a stable order.
var SourceTypes = []SourceType{
	SourceTypeGovernment,
	SourceTypeMedia,
	SourceTypeYouTube,
	SourceTypeSocial,
}

// ParseSourceType converts a string to a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceType, s)
	}
	return t, nil
}

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeGovernment, SourceTypeMedia, SourceTypeYouTube, SourceTypeSocial:
		return true
	}
	return false
}

// SourceStatus is the ingestion status of a source.
type SourceStatus string

const (
	SourceStatusPending   SourceStatus = "pending"
	SourceStatusProcessed SourceStatus = "processed"
	SourceStatusFailed    SourceStatus = "failed"
)

// TagStatus records how a chunk's tag metadata was produced.
type TagStatus string

const (
	// TagStatusTagged means the classifier produced valid metadata.
	TagStatusTagged TagStatus = "tagged"
	// TagStatusDefault means the neutral defaults were applied after the classifier gave up.
	TagStatusDefault TagStatus = "default"
	// TagStatusFailed means tagging never got an answer (for example the run was cancelled).
	TagStatusFailed TagStatus = "failed"
)

// EmbedStatus records how a chunk's embedding was produced.
type EmbedStatus string

const (
	EmbedStatusEmbedded EmbedStatus = "embedded"
	EmbedStatusSkipped  EmbedStatus = "skipped"
	EmbedStatusFailed   EmbedStatus = "failed"
)

// SourceKey is the natural key of a source.
type SourceKey struct {
	ExternalID string
	Type       SourceType
}

func (k SourceKey) String() string {
	return string(k.Type) + ":" + k.ExternalID
}

// Geo holds the administrative location a source talks about.
type Geo struct {
	Country  string `json:"country,omitempty"`
	State    string `json:"state,omitempty"`
	District string `json:"district,omitempty"`
	Ward     string `json:"ward,omitempty"`
}

// Source is one ingested document, page, video or post.
type Source struct {
	ID          string
	ExternalID  string
	Type        SourceType
	Title       string
	Text        string // canonical text
	Fingerprint Fingerprint
	FetchedAt   time.Time
	Status      SourceStatus
	LastError   string

	Domain     string
	Language   string
	Layer      int
	TrustScore float64
	Geo        Geo
	RawURI     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the natural key of the source.
func (s *Source) Key() SourceKey {
	return SourceKey{ExternalID: s.ExternalID, Type: s.Type}
}

// Segment is a piece of canonical text produced by the chunker.
// Start and End are byte offsets into the canonical text of the non-overlapping part;
// Text additionally carries Overlap runes copied from the previous segment.
type Segment struct {
	Text    string
	Start   int
	End     int
	Overlap int
}

// Chunk is a bounded text segment belonging to exactly one source.
type Chunk struct {
	SourceID    string
	Seq         int
	Text        string
	CharLen     int
	Overlap     int
	Tags        TagMetadata
	Embedding   []float32
	TagStatus   TagStatus
	EmbedStatus EmbedStatus
}

// IngestOutcome is the terminal state of a source within a run.
type IngestOutcome string

const (
	OutcomePersisted IngestOutcome = "persisted"
	OutcomeSkipped   IngestOutcome = "skipped"
	OutcomeFailed    IngestOutcome = "failed"
)

// IngestionLog records what happened to one source during one run.
type IngestionLog struct {
	RunID      string
	Key        SourceKey
	Outcome    IngestOutcome
	Chunks     int
	Error      string
	RecordedAt time.Time
}
