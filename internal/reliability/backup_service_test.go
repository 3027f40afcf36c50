package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FenadoAI/autopilot/internal/database"
	testingpkg "github.com/FenadoAI/autopilot/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failOn    string
	uploadErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Upload(_ context.Context, key string, body io.Reader) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, SizeBytes: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	if key == m.failOn {
		return errors.New("access denied")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = content
	}
	return files
}

var backupTime = time.Date(2024, 3, 1, 3, 30, 0, 0, time.UTC)

func TestCreateAndUploadBackup(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	appDB, cleanupApp := testingpkg.NewTestDB(t, "autopilot")
	defer cleanupApp()
	ledgerDB, cleanupLedger := testingpkg.NewTestDB(t, "ledger")
	defer cleanupLedger()

	store := newMemoryStore()
	service := NewBackupService(store, map[string]*database.DB{
		"autopilot": appDB,
		"ledger":    ledgerDB,
		"cache":     nil,
	}, t.TempDir(), "/nightly/", log).WithClock(func() time.Time { return backupTime })

	key, err := service.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nightly/autopilot-backup-2024-03-01-033000.tar.gz", key)

	files := readArchive(t, store.objects[key])
	assert.Contains(t, files, "autopilot.db")
	assert.Contains(t, files, "ledger.db")
	require.Contains(t, files, "backup-metadata.json")

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files["backup-metadata.json"], &metadata))
	assert.True(t, metadata.Timestamp.Equal(backupTime))
	require.Len(t, metadata.Databases, 2)
	assert.Equal(t, "autopilot", metadata.Databases[0].Name)
	assert.Equal(t, "ledger", metadata.Databases[1].Name)
	assert.True(t, strings.HasPrefix(metadata.Databases[0].Checksum, "sha256:"))
	assert.Equal(t, int64(len(files["ledger.db"])), metadata.Databases[1].SizeBytes)
}

func TestCreateAndUploadBackup_UploadFailure(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "autopilot")
	defer cleanup()

	store := newMemoryStore()
	store.uploadErr = errors.New("bucket not found")
	service := NewBackupService(store, map[string]*database.DB{"autopilot": db}, t.TempDir(), "", zerolog.Nop())

	_, err := service.CreateAndUploadBackup(context.Background())
	assert.ErrorContains(t, err, "bucket not found")
}

func TestListAndRotateBackups(t *testing.T) {
	store := newMemoryStore()
	for _, stamp := range []string{
		"2024-02-29-033000", "2024-02-28-033000", "2024-02-20-033000",
		"2024-02-10-033000", "2024-01-01-033000",
	} {
		store.objects["autopilot/autopilot-backup-"+stamp+".tar.gz"] = []byte("x")
	}
	store.objects["autopilot/autopilot-backup-garbage.tar.gz"] = []byte("x")
	store.objects["autopilot/notes.txt"] = []byte("x")

	service := NewBackupService(store, nil, t.TempDir(), "autopilot", zerolog.Nop()).
		WithClock(func() time.Time { return backupTime })
	ctx := context.Background()

	backups, err := service.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 5)
	assert.Equal(t, "autopilot/autopilot-backup-2024-02-29-033000.tar.gz", backups[0].Key)
	assert.Equal(t, int64(24), backups[0].AgeHours)

	deleted, err := service.RotateOldBackups(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// 14 days: only the two oldest beyond the newest three are due
	store.failOn = "autopilot/autopilot-backup-2024-01-01-033000.tar.gz"
	deleted, err = service.RotateOldBackups(ctx, 14)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.NotContains(t, store.keys(), "autopilot/autopilot-backup-2024-02-10-033000.tar.gz")
	assert.Contains(t, store.keys(), "autopilot/autopilot-backup-2024-02-20-033000.tar.gz")
}

func TestRotateOldBackups_KeepsMinimum(t *testing.T) {
	store := newMemoryStore()
	store.objects["autopilot-backup-2020-01-01-000000.tar.gz"] = []byte("x")
	store.objects["autopilot-backup-2020-01-02-000000.tar.gz"] = []byte("x")

	service := NewBackupService(store, nil, t.TempDir(), "", zerolog.Nop())
	deleted, err := service.RotateOldBackups(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Len(t, store.keys(), 2)
}
