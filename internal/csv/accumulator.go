// Package csv implements the CSV Bootstrap Pipeline: chunked or single-shot
// upload reassembly, target-table introspection, coercion-SQL generation,
// and the server-side bulk-load attempt ladder. Grounded on the teacher's
// transaction-wrapped bulk-write style in
// services/anchor/internal/database/mysql/data.go and the layered
// try-strictest-then-degrade fallback pattern in
// services/anchor/internal/database/mysql/connection.go's SSL-mode
// selection, applied here to the LOCAL INFILE -> secure-file-dir -> error
// ladder.
package csv

import (
	"time"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
)

// ChunkAccumulator collects the chunks of one in-progress bulk upload,
// scoped to a single (appId, fileName) upload.
type ChunkAccumulator struct {
	TenantAppID     string
	TableName       string
	FileName        string
	ExpectedChunks  int
	ReceivedChunks  map[int][]byte
	TotalBytes      int64
	TotalRows       int64
	StartedAt       time.Time
}

// NewChunkAccumulator creates an accumulator for an upload declared via
// csv_bulk_upload_start.
func NewChunkAccumulator(tenantAppID, tableName, fileName string, expectedChunks int, totalBytes, totalRows int64, startedAt time.Time) *ChunkAccumulator {
	return &ChunkAccumulator{
		TenantAppID:    tenantAppID,
		TableName:      tableName,
		FileName:       fileName,
		ExpectedChunks: expectedChunks,
		ReceivedChunks: make(map[int][]byte),
		TotalBytes:     totalBytes,
		TotalRows:      totalRows,
		StartedAt:      startedAt,
	}
}

// AddChunk stores chunk index's decoded bytes. index must lie in
// [0, ExpectedChunks) and must not have already been received.
func (a *ChunkAccumulator) AddChunk(index int, content []byte) error {
	if index < 0 || index >= a.ExpectedChunks {
		return apperr.NewValidationError("index", "chunk index out of range")
	}
	if _, exists := a.ReceivedChunks[index]; exists {
		return apperr.NewValidationError("index", "chunk already received")
	}
	a.ReceivedChunks[index] = content
	return nil
}

// Complete reports whether every declared chunk has arrived.
func (a *ChunkAccumulator) Complete() bool {
	return len(a.ReceivedChunks) == a.ExpectedChunks
}

// Assemble concatenates the received chunks in ascending index order. It
// must only be called once Complete reports true.
func (a *ChunkAccumulator) Assemble() ([]byte, error) {
	if !a.Complete() {
		return nil, apperr.NewValidationError("chunks", "not all chunks have been received")
	}

	var total int
	for _, c := range a.ReceivedChunks {
		total += len(c)
	}

	buf := make([]byte, 0, total)
	for i := 0; i < a.ExpectedChunks; i++ {
		buf = append(buf, a.ReceivedChunks[i]...)
	}
	return buf, nil
}
