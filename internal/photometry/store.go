package photometry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/knolan10/BBHBot/internal/types"
)

// Archive is the local lightcurve store: one directory per event holding
// zstd-compressed per-source payloads plus a manifest recording the Julian
// day each source was last retrieved. The manifest is what distinguishes a
// "new" source from one due for an update.
type Archive struct {
	mu   sync.Mutex
	root string
}

// NewArchive creates an Archive rooted at dir.
func NewArchive(dir string) *Archive {
	return &Archive{root: dir}
}

// coordKey is the stable per-source file and manifest key.
func coordKey(c types.Coordinate) string {
	return fmt.Sprintf("%.6f_%.6f", c.RA, c.Dec)
}

// parseCoordKey recovers the coordinate from a manifest key.
func parseCoordKey(key string) (types.Coordinate, bool) {
	var c types.Coordinate
	if _, err := fmt.Sscanf(key, "%f_%f", &c.RA, &c.Dec); err != nil {
		return types.Coordinate{}, false
	}
	return c, true
}

// manifest maps coordKey to the Julian day of the last retrieval.
type manifest map[string]float64

func (a *Archive) eventDir(eventID string) string {
	return filepath.Join(a.root, eventID)
}

func (a *Archive) manifestPath(eventID string) string {
	return filepath.Join(a.eventDir(eventID), "manifest.json")
}

func (a *Archive) readManifest(eventID string) (manifest, error) {
	raw, err := os.ReadFile(a.manifestPath(eventID))
	if os.IsNotExist(err) {
		return manifest{}, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read archive manifest", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "corrupt archive manifest", err)
	}
	return m, nil
}

func (a *Archive) writeManifest(eventID string, m manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode archive manifest", err)
	}
	if err := os.WriteFile(a.manifestPath(eventID), raw, 0o644); err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to write archive manifest", err)
	}
	return nil
}

// Entries returns the retrieval ledger for an event: coordKey to the Julian
// day of the last retrieval. An event with no archive yields an empty map.
func (a *Archive) Entries(eventID string) (map[string]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readManifest(eventID)
}

// Put stores one source payload zstd-compressed and records its retrieval
// day in the manifest.
func (a *Archive) Put(eventID string, coord types.Coordinate, retrievedJD float64, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dir := a.eventDir(eventID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create archive dir", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create zstd writer", err)
	}
	compressed := enc.EncodeAll(payload, nil)
	enc.Close()

	key := coordKey(coord)
	path := filepath.Join(dir, key+".json.zst")
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to write archive payload", err)
	}

	m, err := a.readManifest(eventID)
	if err != nil {
		return err
	}
	m[key] = retrievedJD
	return a.writeManifest(eventID, m)
}

// Get reads back one decompressed source payload.
func (a *Archive) Get(eventID string, coord types.Coordinate) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	path := filepath.Join(a.eventDir(eventID), coordKey(coord)+".json.zst")
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read archive payload", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create zstd reader", err)
	}
	defer dec.Close()

	payload, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "corrupt archive payload", err)
	}
	return payload, nil
}
