package csv

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
)

// PersistSingleShot decodes base64 content and writes it to fileName under
// uploadsDir/tenantAppID, verifying the written size against declaredBytes
// (a mismatch is logged as a warning by the caller, not treated as fatal).
// Returns the path written and the actual byte count.
func PersistSingleShot(uploadsDir, tenantAppID, fileName, contentBase64 string, declaredBytes int64) (string, int64, bool, error) {
	decoded, err := base64.StdEncoding.DecodeString(contentBase64)
	if err != nil {
		return "", 0, false, apperr.NewValidationError("content", "malformed base64 content: "+err.Error())
	}

	dir := filepath.Join(uploadsDir, tenantAppID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, false, apperr.NewReassemblyError(fileName, "creating upload directory: "+err.Error())
	}

	path := filepath.Join(dir, filepath.Base(fileName))
	if err := os.WriteFile(path, decoded, 0o644); err != nil {
		return "", 0, false, apperr.NewReassemblyError(fileName, "writing file: "+err.Error())
	}

	actual := int64(len(decoded))
	sizeMismatch := declaredBytes > 0 && actual != declaredBytes
	return path, actual, sizeMismatch, nil
}

// PersistChunked decodes each base64 chunk in acc and writes them, in
// ascending index order, to a single reassembled file under
// uploadsDir/tenantAppID.
func PersistChunked(uploadsDir string, acc *ChunkAccumulator) (string, error) {
	dir := filepath.Join(uploadsDir, acc.TenantAppID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.NewReassemblyError(acc.FileName, "creating upload directory: "+err.Error())
	}

	path := filepath.Join(dir, filepath.Base(acc.FileName))
	f, err := os.Create(path)
	if err != nil {
		return "", apperr.NewReassemblyError(acc.FileName, "creating file: "+err.Error())
	}
	defer f.Close()

	assembled, err := acc.Assemble()
	if err != nil {
		return "", err
	}
	if _, err := f.Write(assembled); err != nil {
		return "", apperr.NewReassemblyError(acc.FileName, "writing file: "+err.Error())
	}

	return path, nil
}

// DecodeChunk decodes one chunk's base64 content, wrapping decode errors
// with the chunk index for diagnosability.
func DecodeChunk(index int, contentBase64 string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(contentBase64)
	if err != nil {
		return nil, apperr.NewValidationError("content", fmt.Sprintf("chunk %d: malformed base64 content: %v", index, err))
	}
	return decoded, nil
}

// Cleanup removes the uploaded source file, per the pipeline's final step.
// A missing file is not an error — cleanup is idempotent.
func Cleanup(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.NewReassemblyError(filepath.Base(path), "removing file: "+err.Error())
	}
	return nil
}
