package scheduler

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	fn   func() error
}

func (j funcJob) Run() error   { return j.fn() }
func (j funcJob) Name() string { return j.name }

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))
	job := funcJob{name: "noop", fn: func() error { return nil }}

	require.NoError(t, s.AddJob("0 * * * * *", job))
	require.NoError(t, s.AddJob("@every 30s", job))
	assert.Error(t, s.AddJob("every minute", job))
	assert.Len(t, s.cron.Entries(), 2)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))

	calls := 0
	ok := funcJob{name: "ok", fn: func() error { calls++; return nil }}
	require.NoError(t, s.RunNow(ok))
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	assert.ErrorIs(t, s.RunNow(funcJob{name: "fail", fn: func() error { return boom }}), boom)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(zerolog.New(nil).Level(zerolog.Disabled))
	s.Start()
	s.Stop()
}
