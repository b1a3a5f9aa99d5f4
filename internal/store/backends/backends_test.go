package backends

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/agentrep/internal/config"
	"github.com/ocx/agentrep/internal/store/badgerstore"
	"github.com/ocx/agentrep/internal/store/memory"
)

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &memory.Store{}, s)
}

func TestOpenBadger(t *testing.T) {
	cfg := config.StoreConfig{Backend: "badger", Badger: config.BadgerConfig{Path: t.TempDir()}}
	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &badgerstore.Store{}, s)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Backend: "floppy"}, nil)
	assert.ErrorContains(t, err, "floppy")
}

func TestOpenSpannerRequiresDatabase(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Backend: "spanner"}, nil)
	assert.Error(t, err)
}

func TestRunMaintenanceReturnsForNonBadger(t *testing.T) {
	done := make(chan struct{})
	go func() {
		RunMaintenance(context.Background(), memory.New(), config.StoreConfig{}, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance loop should not run for the memory store")
	}
}

func TestRunMaintenanceStopsOnCancel(t *testing.T) {
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMaintenance(ctx, s, config.StoreConfig{Badger: config.BadgerConfig{GCIntervalMinutes: 1}}, nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance loop did not stop")
	}
}
