// Package transform provides the default Mapper: a config-driven mapping
// from row payloads to canonical documents, embeddings, and metadata.
package transform

import (
	"context"
	"fmt"

	"github.com/retake-earth/connect/internal/config"
	"github.com/retake-earth/connect/internal/embeddings"
	"github.com/retake-earth/connect/internal/util"
)

// ColumnMapper builds documents by concatenating configured text columns and
// metadata by extracting configured metadata columns. Both operations are
// pure functions of the payload so replays produce identical output.
type ColumnMapper struct {
	textColumns     []string
	metadataColumns []string
	normalize       bool
	embedder        embeddings.Provider
}

func NewColumnMapper(m config.Mapping, embedder embeddings.Provider, normalize bool) *ColumnMapper {
	return &ColumnMapper{
		textColumns:     m.TextColumns,
		metadataColumns: m.MetadataColumns,
		normalize:       normalize,
		embedder:        embedder,
	}
}

// Transform concatenates the text columns in configured order. With no text
// columns configured, every payload value is concatenated in sorted-key
// order so the result stays deterministic.
func (c *ColumnMapper) Transform(payload map[string]any) (string, error) {
	columns := c.textColumns
	if len(columns) == 0 {
		columns = util.SortedKeys(payload)
	}
	doc := util.ConcatenateColumns(payload, columns)
	if doc == "" {
		return "", fmt.Errorf("no text content in columns %v", columns)
	}
	return doc, nil
}

func (c *ColumnMapper) Embed(ctx context.Context, document string) ([]float32, error) {
	vec, err := c.embedder.Embed(ctx, document)
	if err != nil {
		return nil, err
	}
	if c.normalize {
		vec = util.NormalizeVector(vec)
	}
	return vec, nil
}

// Metadata extracts the metadata columns in configured order, skipping
// columns absent from the payload. Returns an empty slice when no metadata
// columns are configured.
func (c *ColumnMapper) Metadata(payload map[string]any) ([]string, error) {
	fields := make([]string, 0, len(c.metadataColumns))
	for _, col := range c.metadataColumns {
		if v, ok := payload[col]; ok && v != nil {
			fields = append(fields, util.ToString(v))
		}
	}
	return fields, nil
}

// RowKey derives the partition key for a change event. The configured key
// column wins so that all versions of one logical row land in the same
// destination partition; the record's own key is the fallback.
func RowKey(keyColumn string, payload map[string]any, rawKey []byte) []byte {
	if keyColumn != "" {
		if v, ok := payload[keyColumn]; ok && v != nil {
			return []byte(util.ToString(v))
		}
	}
	return rawKey
}
