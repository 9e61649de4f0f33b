package domain

import (
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// EmbeddingKind partitions stored vectors. Similarity is only ever computed
// between records of the same kind and owner.
type EmbeddingKind string

const (
	EmbeddingKindSemantic       EmbeddingKind = "semantic"
	EmbeddingKindPerceptualHash EmbeddingKind = "perceptual-hash"
	EmbeddingKindContentHash    EmbeddingKind = "content-hash"
)

// Valid reports whether k is a known embedding kind.
func (k EmbeddingKind) Valid() bool {
	switch k {
	case EmbeddingKindSemantic, EmbeddingKindPerceptualHash, EmbeddingKindContentHash:
		return true
	}
	return false
}

// Vector is a float32 feature vector stored as a raw little-endian float32
// array (4 bytes per component, no header).
type Vector []float32

// GormDataType maps Vector to the dialect's binary column type
// (bytea on PostgreSQL, blob on SQLite).
func (Vector) GormDataType() string {
	return "bytes"
}

// Value implements the driver.Valuer interface for database serialization.
func (v Vector) Value() (driver.Value, error) {
	return EncodeVector(v), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = Vector{}
		return nil
	}
	var raw []byte
	switch val := value.(type) {
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	default:
		return errors.New("failed to scan Vector")
	}
	decoded, err := DecodeVector(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// EncodeVector serializes a vector as little-endian float32 bytes.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector parses little-endian float32 bytes produced by EncodeVector.
func DecodeVector(raw []byte) (Vector, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d: not a multiple of 4", len(raw))
	}
	out := make(Vector, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// EmbeddingRecord is an immutable (owner, content, kind, vector) tuple.
// Records are append-only and removed only together with their post.
// Seq is assigned by the store and defines scan order.
type EmbeddingRecord struct {
	Seq       uint64        `gorm:"primaryKey;autoIncrement" json:"seq"`
	OwnerID   string        `gorm:"type:text;not null;index:idx_embeddings_scope,priority:1" json:"owner_id"`
	Kind      EmbeddingKind `gorm:"type:text;not null;index:idx_embeddings_scope,priority:2" json:"kind"`
	ContentID string        `gorm:"type:text;not null;index:idx_embeddings_content" json:"content_id"`
	Vector    Vector        `gorm:"not null" json:"-"`
	Dims      int           `gorm:"not null" json:"dims"`
	Source    string        `gorm:"type:text" json:"source,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// TableName returns the database table name for EmbeddingRecord.
func (EmbeddingRecord) TableName() string {
	return "embeddings"
}
