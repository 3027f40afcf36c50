package reliability

import (
	"errors"
	"testing"

	"github.com/FenadoAI/autopilot/internal/database"
	testingpkg "github.com/FenadoAI/autopilot/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
)

func TestDailyMaintenanceJob(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	defer cleanup()

	job := NewDailyMaintenanceJob(map[string]*database.DB{"ledger": db, "autopilot": nil}, t.TempDir(), zerolog.Nop())
	assert.Equal(t, "reliability:daily_maintenance", job.Name())

	tests := []struct {
		name    string
		free    uint64
		err     error
		wantErr bool
	}{
		{"plenty", 100 << 30, nil, false},
		{"low", 1 << 30, nil, false},
		{"critical", 100 << 20, nil, true},
		{"stat failure", 0, errors.New("no such device"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job.usage = func(string) (*disk.UsageStat, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return &disk.UsageStat{Free: tt.free}, nil
			}
			if tt.wantErr {
				assert.Error(t, job.Run())
			} else {
				assert.NoError(t, job.Run())
			}
		})
	}
}

func TestBackupJob(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "autopilot")
	defer cleanup()

	store := newMemoryStore()
	service := NewBackupService(store, map[string]*database.DB{"autopilot": db}, t.TempDir(), "", zerolog.Nop())
	job := NewBackupJob(service, 30, zerolog.Nop())

	assert.Equal(t, "reliability:backup", job.Name())
	assert.NoError(t, job.Run())
	assert.Len(t, store.keys(), 1)

	store.uploadErr = errors.New("offline")
	assert.Error(t, job.Run())
}
