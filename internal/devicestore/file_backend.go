package devicestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/passcard/attest-service/internal/models"
)

// FileBackend is the single-process JSON file store from spec.md §4.3: a
// single JSON object keyed by base64(credentialId), rewritten atomically on
// every Put/UpdateAssertion. No locking beyond the in-process mutex - this
// backend is documented as single-process only.
type FileBackend struct {
	path string
	mu   sync.Mutex
	// order tracks write recency within this process so FindByAddress can
	// honor last-writer-wins when two credentialIds share an evmAddress; a
	// bare map has no such ordering once round-tripped through JSON.
	order []string
}

// NewFileBackend returns a backend rooted at path, creating its parent
// directory on first write rather than at construction time.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func credKey(credentialID []byte) string {
	return base64.StdEncoding.EncodeToString(credentialID)
}

// load reads the whole file under lock. A missing file is an empty store,
// not an error - the directory is created lazily on first write.
func (f *FileBackend) load() (map[string]*models.DeviceRecord, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]*models.DeviceRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(data) == 0 {
		return map[string]*models.DeviceRecord{}, nil
	}
	var records map[string]*models.DeviceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return records, nil
}

// save rewrites the whole file atomically: write to a temp file in the same
// directory, then os.Rename over the target.
func (f *FileBackend) save(records map[string]*models.DeviceRecord) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (f *FileBackend) Get(ctx context.Context, credentialID []byte) (*models.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records, err := f.load()
	if err != nil {
		return nil, err
	}
	rec, ok := records[credKey(credentialID)]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (f *FileBackend) Put(ctx context.Context, rec *models.DeviceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	records, err := f.load()
	if err != nil {
		return err
	}
	key := credKey(rec.CredentialID)
	records[key] = rec.Clone()
	f.touch(key)
	return f.save(records)
}

// touch moves key to the end of the recency order, appending it if new.
func (f *FileBackend) touch(key string) {
	for i, k := range f.order {
		if k == key {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.order = append(f.order, key)
}

func (f *FileBackend) UpdateAssertion(ctx context.Context, credentialID []byte, newCounter uint32, evmAddress, passportHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	records, err := f.load()
	if err != nil {
		return err
	}
	rec, ok := records[credKey(credentialID)]
	if !ok {
		return fmt.Errorf("%w: credential not found", ErrUnavailable)
	}
	if rec.Counter >= newCounter {
		return ErrStaleCounter
	}
	rec.Counter = newCounter
	rec.EVMAddress = strings.ToLower(evmAddress)
	rec.PassportHash = passportHash
	f.touch(credKey(credentialID))
	return f.save(records)
}

func (f *FileBackend) FindByAddress(ctx context.Context, evmAddress string) (*models.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records, err := f.load()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(evmAddress)
	var found *models.DeviceRecord
	// Walk recency order first so a tie between two credentialIds resolves
	// to whichever was written most recently in this process.
	for i := len(f.order) - 1; i >= 0; i-- {
		if rec, ok := records[f.order[i]]; ok && strings.ToLower(rec.EVMAddress) == want {
			found = rec
			break
		}
	}
	if found == nil {
		for _, rec := range records {
			if strings.ToLower(rec.EVMAddress) == want {
				found = rec
				break
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	return found.Clone(), nil
}
