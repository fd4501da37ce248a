package badger

//go:generate go run ../../cmd/musgen

import (
	"fmt"
	"time"

	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/storage"
)

// SourceRecord is the stored form of a core.Source. Times are Unix
// microseconds in UTC, zero for an unset time.
type SourceRecord struct {
	ID          string
	ExternalID  string
	Type        string
	Title       string
	Text        string
	Fingerprint string
	FetchedAt   int64
	Status      string
	LastError   string
	Domain      string
	Language    string
	Layer       int
	TrustScore  float64
	Country     string
	State       string
	District    string
	Ward        string
	RawURI      string
	CreatedAt   int64
	UpdatedAt   int64
}

func newSourceRecord(s *core.Source) *SourceRecord {
	return &SourceRecord{
		ID:          s.ID,
		ExternalID:  s.ExternalID,
		Type:        string(s.Type),
		Title:       s.Title,
		Text:        s.Text,
		Fingerprint: s.Fingerprint.String(),
		FetchedAt:   micros(s.FetchedAt),
		Status:      string(s.Status),
		LastError:   s.LastError,
		Domain:      s.Domain,
		Language:    s.Language,
		Layer:       s.Layer,
		TrustScore:  s.TrustScore,
		Country:     s.Geo.Country,
		State:       s.Geo.State,
		District:    s.Geo.District,
		Ward:        s.Geo.Ward,
		RawURI:      s.RawURI,
		CreatedAt:   micros(s.CreatedAt),
		UpdatedAt:   micros(s.UpdatedAt),
	}
}

func (r *SourceRecord) key() core.SourceKey {
	return core.SourceKey{ExternalID: r.ExternalID, Type: core.SourceType(r.Type)}
}

func (r *SourceRecord) fingerprint() (core.Fingerprint, error) {
	fp, err := core.ParseFingerprint(r.Fingerprint)
	if err != nil {
		return fp, fmt.Errorf("%w: source %s: %w", storage.ErrSerializationFailed, r.ID, err)
	}
	return fp, nil
}

func (r *SourceRecord) source() (*core.Source, error) {
	fp, err := r.fingerprint()
	if err != nil {
		return nil, err
	}
	return &core.Source{
		ID:          r.ID,
		ExternalID:  r.ExternalID,
		Type:        core.SourceType(r.Type),
		Title:       r.Title,
		Text:        r.Text,
		Fingerprint: fp,
		FetchedAt:   fromMicros(r.FetchedAt),
		Status:      core.SourceStatus(r.Status),
		LastError:   r.LastError,
		Domain:      r.Domain,
		Language:    r.Language,
		Layer:       r.Layer,
		TrustScore:  r.TrustScore,
		Geo: core.Geo{
			Country:  r.Country,
			State:    r.State,
			District: r.District,
			Ward:     r.Ward,
		},
		RawURI:    r.RawURI,
		CreatedAt: fromMicros(r.CreatedAt),
		UpdatedAt: fromMicros(r.UpdatedAt),
	}, nil
}

// ChunkRecord is the stored form of a core.Chunk. Tags are kept as the same
// JSON document the SQL backends store, and the embedding in the same
// little-endian layout.
type ChunkRecord struct {
	SourceID    string
	Seq         int
	Text        string
	CharLen     int
	Overlap     int
	Tags        []byte
	Embedding   []byte
	TagStatus   string
	EmbedStatus string
}

func newChunkRecord(sourceID string, c *core.Chunk) (*ChunkRecord, error) {
	tags, err := storage.MarshalTags(c.Tags)
	if err != nil {
		return nil, err
	}
	return &ChunkRecord{
		SourceID:    sourceID,
		Seq:         c.Seq,
		Text:        c.Text,
		CharLen:     c.CharLen,
		Overlap:     c.Overlap,
		Tags:        tags,
		Embedding:   storage.EncodeVector(c.Embedding),
		TagStatus:   string(c.TagStatus),
		EmbedStatus: string(c.EmbedStatus),
	}, nil
}

func (r *ChunkRecord) chunk() (*core.Chunk, error) {
	tags, err := storage.UnmarshalTags(r.Tags)
	if err != nil {
		return nil, err
	}
	embedding, err := storage.DecodeVector(r.Embedding)
	if err != nil {
		return nil, err
	}
	return &core.Chunk{
		SourceID:    r.SourceID,
		Seq:         r.Seq,
		Text:        r.Text,
		CharLen:     r.CharLen,
		Overlap:     r.Overlap,
		Tags:        tags,
		Embedding:   embedding,
		TagStatus:   core.TagStatus(r.TagStatus),
		EmbedStatus: core.EmbedStatus(r.EmbedStatus),
	}, nil
}

// LogRecord is the stored form of a core.IngestionLog.
type LogRecord struct {
	RunID      string
	ExternalID string
	Type       string
	Outcome    string
	Chunks     int
	Error      string
	RecordedAt int64
}

func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func marshalSource(rec *SourceRecord) []byte {
	buf := make([]byte, SourceRecordMUS.Size(*rec))
	SourceRecordMUS.Marshal(*rec, buf)
	return buf
}

func unmarshalSource(data []byte) (*SourceRecord, error) {
	rec, _, err := SourceRecordMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: source record: %w", storage.ErrSerializationFailed, err)
	}
	return &rec, nil
}

func marshalChunk(rec *ChunkRecord) []byte {
	buf := make([]byte, ChunkRecordMUS.Size(*rec))
	ChunkRecordMUS.Marshal(*rec, buf)
	return buf
}

func unmarshalChunk(data []byte) (*ChunkRecord, error) {
	rec, _, err := ChunkRecordMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk record: %w", storage.ErrSerializationFailed, err)
	}
	return &rec, nil
}

func marshalLog(rec *LogRecord) []byte {
	buf := make([]byte, LogRecordMUS.Size(*rec))
	LogRecordMUS.Marshal(*rec, buf)
	return buf
}
