package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

const blobVersion = 1

// vectorBlob is the CBOR body of the vector artifact.
type vectorBlob struct {
	Version int       `cbor:"1,keyasint"`
	Backend string    `cbor:"2,keyasint"`
	Dim     int       `cbor:"3,keyasint"`
	Count   int       `cbor:"4,keyasint"`
	Data    []float32 `cbor:"5,keyasint"`
}

var (
	blobEncMode cbor.EncMode
	caseEncoder *zstd.Encoder
	caseDecoder *zstd.Decoder
)

func init() {
	var err error
	blobEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("index: CBOR encoder initialization failed: " + err.Error())
	}
	caseEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("index: zstd encoder initialization failed: " + err.Error())
	}
	caseDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("index: zstd decoder initialization failed: " + err.Error())
	}
}

// Save writes a full snapshot of vectors and cases. Both artifacts are written to temporary
// files first and renamed into place, vectors then cases. The previous vector artifact is kept
// aside until the case rename succeeds and is restored if it fails, so any failure is a
// PersistenceFailure that leaves the previous pair in place. A store without paths saves nothing.
func (s *Store) Save() error {
	if s.vectorPath == "" && s.casePath == "" {
		return nil
	}
	if s.vectorPath == "" || s.casePath == "" {
		return utils.PersistenceFailure("index.save", "both vector and case paths are required", nil)
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	blob := vectorBlob{
		Version: blobVersion,
		Backend: s.backend.Name(),
		Dim:     s.backend.Dim(),
		Count:   s.backend.Len(),
		Data:    s.backend.Snapshot(),
	}
	cases := append([]models.CaseRecord(nil), s.cases...)
	s.mu.RUnlock()

	vectorBytes, err := encodeVectors(blob)
	if err != nil {
		return utils.PersistenceFailure("index.save", "encode vectors", err)
	}
	caseBytes, err := encodeCases(cases)
	if err != nil {
		return utils.PersistenceFailure("index.save", "encode cases", err)
	}

	vectorTmp, err := writeTemp(s.vectorPath, vectorBytes)
	if err != nil {
		return utils.PersistenceFailure("index.save", "write vectors", err)
	}
	caseTmp, err := writeTemp(s.casePath, caseBytes)
	if err != nil {
		_ = os.Remove(vectorTmp)
		return utils.PersistenceFailure("index.save", "write cases", err)
	}
	backup, err := keepPrevious(s.vectorPath)
	if err != nil {
		_ = os.Remove(vectorTmp)
		_ = os.Remove(caseTmp)
		return utils.PersistenceFailure("index.save", "keep previous vectors", err)
	}
	if err := os.Rename(vectorTmp, s.vectorPath); err != nil {
		_ = os.Remove(vectorTmp)
		_ = os.Remove(caseTmp)
		discardPrevious(backup)
		return utils.PersistenceFailure("index.save", "commit vectors", err)
	}
	if err := os.Rename(caseTmp, s.casePath); err != nil {
		_ = os.Remove(caseTmp)
		if rerr := restorePrevious(s.vectorPath, backup); rerr != nil {
			s.logger.Error("restore previous vectors failed", slog.String("path", s.vectorPath), slog.String("error", rerr.Error()))
		}
		return utils.PersistenceFailure("index.save", "commit cases", err)
	}
	discardPrevious(backup)

	s.logger.Debug("index saved", slog.Int("cases", len(cases)), slog.String("path", s.vectorPath))
	return nil
}

// Load replaces the store contents with the persisted artifacts. Both missing yields an empty
// store. Exactly one missing, an undecodable artifact, or a count mismatch between vectors and
// cases is a ContractViolation and leaves the store unchanged.
func (s *Store) Load() error {
	if s.vectorPath == "" && s.casePath == "" {
		return nil
	}

	vectorBytes, vecErr := os.ReadFile(s.vectorPath)
	caseBytes, caseErr := os.ReadFile(s.casePath)
	vecMissing := errors.Is(vecErr, fs.ErrNotExist)
	caseMissing := errors.Is(caseErr, fs.ErrNotExist)

	switch {
	case vecMissing && caseMissing:
		s.logger.Info("no persisted index found, starting empty", slog.String("path", s.vectorPath))
		return nil
	case vecMissing != caseMissing:
		return utils.ContractViolation("index.load", "vector and case artifacts must exist together")
	case vecErr != nil:
		return utils.PersistenceFailure("index.load", "read vectors", vecErr)
	case caseErr != nil:
		return utils.PersistenceFailure("index.load", "read cases", caseErr)
	}

	blob, err := decodeVectors(vectorBytes)
	if err != nil {
		return utils.ContractViolation("index.load", "decode vectors: "+err.Error())
	}
	cases, err := decodeCases(caseBytes)
	if err != nil {
		return utils.ContractViolation("index.load", "decode cases: "+err.Error())
	}
	if blob.Count < 0 || (blob.Count > 0 && blob.Dim <= 0) {
		return utils.ContractViolation("index.load", fmt.Sprintf("invalid vector shape %d x %d", blob.Count, blob.Dim))
	}
	if blob.Count != len(cases) {
		return utils.ContractViolation("index.load", fmt.Sprintf("%d vectors but %d cases", blob.Count, len(cases)))
	}
	if blob.Dim*blob.Count != len(blob.Data) {
		return utils.ContractViolation("index.load", fmt.Sprintf("vector data length %d does not match %d x %d", len(blob.Data), blob.Count, blob.Dim))
	}

	s.mu.Lock()
	s.backend.Restore(blob.Dim, blob.Data)
	s.cases = cases
	s.mu.Unlock()

	s.logger.Info("index loaded", slog.Int("cases", len(cases)), slog.Int("dim", blob.Dim), slog.String("backend", s.backend.Name()))
	return nil
}

func encodeVectors(blob vectorBlob) ([]byte, error) {
	raw, err := blobEncMode.Marshal(blob)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeVectors(data []byte) (vectorBlob, error) {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return vectorBlob{}, err
	}
	var blob vectorBlob
	if err := cbor.Unmarshal(raw, &blob); err != nil {
		return vectorBlob{}, err
	}
	if blob.Version != blobVersion {
		return vectorBlob{}, fmt.Errorf("unsupported vector blob version %d", blob.Version)
	}
	return blob, nil
}

func encodeCases(cases []models.CaseRecord) ([]byte, error) {
	if cases == nil {
		cases = []models.CaseRecord{}
	}
	raw, err := json.Marshal(cases)
	if err != nil {
		return nil, err
	}
	return caseEncoder.EncodeAll(raw, nil), nil
}

func decodeCases(data []byte) ([]models.CaseRecord, error) {
	raw, err := caseDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, err
	}
	var cases []models.CaseRecord
	if err := json.Unmarshal(raw, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// keepPrevious hard-links the current artifact at path to a sibling so a failed commit can put it
// back. It returns "" when there is nothing to keep.
func keepPrevious(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	backup := path + ".prev"
	if err := os.Remove(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if err := os.Link(path, backup); err != nil {
		return "", err
	}
	return backup, nil
}

// restorePrevious puts the kept artifact back at path, or removes path when none was kept.
func restorePrevious(path, backup string) error {
	if backup == "" {
		return os.Remove(path)
	}
	return os.Rename(backup, path)
}

func discardPrevious(backup string) {
	if backup != "" {
		_ = os.Remove(backup)
	}
}

func writeTemp(target string, data []byte) (string, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
