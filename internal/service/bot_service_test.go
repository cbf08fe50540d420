package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dental-bot/internal/config"
	"dental-bot/internal/telegram"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// idleAPI never delivers updates.
type idleAPI struct{}

func (idleAPI) GetUpdates(ctx context.Context, _ int64) ([]telegram.Update, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (idleAPI) SendMessage(context.Context, int64, string, *telegram.ReplyMarkup) error { return nil }
func (idleAPI) SendDocument(context.Context, int64, string, string) error              { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Telegram.Token = "test"
	cfg.Telegram.Workers = 2
	cfg.Store.Driver = "memory"
	cfg.Session.Backend = "memory"
	cfg.Session.TTL = time.Hour
	cfg.Session.KeyPrefix = "test:session:"
	cfg.Export.Dir = t.TempDir()
	cfg.Export.FileName = "patients_export.xlsx"
	cfg.Services = config.DefaultServices
	return cfg
}

func runFlow(t *testing.T, s *BotService, chat string) {
	t.Helper()
	for _, text := range []string{"Add patient", "Jane Doe", "01.05.2025", "Teeth cleaning", "50", "yes"} {
		_, err := s.engine.Handle(context.Background(), chat, text)
		require.NoError(t, err, text)
	}
}

func TestBotService_MemoryStartStop(t *testing.T) {
	s, err := newBotService(testConfig(t), zap.NewNop(), idleAPI{})
	require.NoError(t, err)
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestBotService_HTTPEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Enabled = true
	cfg.HTTP.Addr = "127.0.0.1:0"

	s, err := newBotService(cfg, zap.NewNop(), idleAPI{})
	require.NoError(t, err)
	defer s.Stop()
	require.NotNil(t, s.httpServer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestBotService_SQLiteRedisStream(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "patients.db")
	cfg.Session.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()
	cfg.Notify.Stream = "dental:visits"

	s, err := newBotService(cfg, zap.NewNop(), idleAPI{})
	require.NoError(t, err)
	defer s.Stop()

	_, err = s.engine.Handle(context.Background(), "1", "Add patient")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:session:1"))
	_, err = s.engine.Handle(context.Background(), "1", "Cancel")
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:session:1"))

	runFlow(t, s, "1")

	visits, err := s.visits.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, int64(1), visits[0].ID)
	assert.Equal(t, 50.0, visits[0].Cost)

	entries, err := mr.Stream("dental:visits")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBotService_SQLiteSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "patients.db")

	s, err := newBotService(cfg, zap.NewNop(), idleAPI{})
	require.NoError(t, err)
	runFlow(t, s, "1")
	require.NoError(t, s.Stop())

	s, err = newBotService(cfg, zap.NewNop(), idleAPI{})
	require.NoError(t, err)
	defer s.Stop()
	runFlow(t, s, "1")

	visits, err := s.visits.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, visits, 2)
	assert.Equal(t, []int64{1, 2}, []int64{visits[0].ID, visits[1].ID})
}

func TestBotService_ConfigErrors(t *testing.T) {
	t.Run("store driver", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Driver = "mysql"
		_, err := newBotService(cfg, zap.NewNop(), idleAPI{})
		assert.ErrorContains(t, err, "unsupported store driver")
	})

	t.Run("session backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Session.Backend = "etcd"
		_, err := newBotService(cfg, zap.NewNop(), idleAPI{})
		assert.ErrorContains(t, err, "unsupported session backend")
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Session.Backend = "redis"
		cfg.Redis.Addr = "127.0.0.1:1"
		_, err := newBotService(cfg, zap.NewNop(), idleAPI{})
		assert.ErrorContains(t, err, "failed to ping redis")
	})
}
