package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/config"
	"github.com/ocx/agentrep/internal/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Protocol.Genesis.Enabled = true
	cfg.Protocol.Genesis.Authority = strings.Repeat("ab", 32)
	return cfg
}

func TestGenesisIsIdempotent(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(ctx, testConfig(), logger)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.genesis(ctx))
	require.NoError(t, a.genesis(ctx))

	cfg, err := a.program.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.mintAddress(), cfg.ReputationMint)
	assert.Equal(t, uint64(100), cfg.MinReputationForVouching)
	assert.Equal(t, 1, a.audit.Len())

	var supply uint64
	require.NoError(t, a.store.View(ctx, func(tx store.Txn) error {
		supply, err = a.tokens.Supply(ctx, tx, a.mintAddress())
		return err
	}))
	assert.Zero(t, supply)
}

func TestNewAppSeedsEscrowGaugeFromStore(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.Store.Backend = "badger"
	cfg.Store.Badger.Path = t.TempDir()

	a, err := newApp(ctx, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, a.genesis(ctx))
	voucher, target := agent(0x01), agent(0x02)
	_, err = a.program.Register(ctx, voucher, "voucher")
	require.NoError(t, err)
	_, err = a.program.Register(ctx, target, "target")
	require.NoError(t, err)
	_, err = a.program.CompleteTask(ctx, voucher, "t-1", 300)
	require.NoError(t, err)
	_, err = a.program.VouchFor(ctx, voucher, target, 120)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	restarted, err := newApp(ctx, cfg, logger)
	require.NoError(t, err)
	defer restarted.Close()
	assert.Equal(t, 120.0, testutil.ToFloat64(restarted.metrics.EscrowLocked))
}

func agent(b byte) address.Address {
	var a address.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func TestNewAppFailsWhenRedisEventsUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cfg := testConfig()
	cfg.Events.Backend = "redis"
	cfg.Events.RedisAddr = "127.0.0.1:1"

	_, err := newApp(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "events")
}

func TestGenesisRejectsBadAuthority(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Protocol.Genesis.Authority = "zz"
	a, err := newApp(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()
	assert.Error(t, a.genesis(ctx))
}

func TestNewLoggerFansOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	var stderr bytes.Buffer
	logger, closer, err := newLogger(config.LogConfig{Level: "debug", JSONFile: path}, &stderr)
	require.NoError(t, err)

	logger.Debug("[Test] Hello", "k", "v")
	require.NoError(t, closer.Close())

	assert.Contains(t, stderr.String(), "[Test] Hello")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"[Test] Hello"`)
}

func TestParseLevel(t *testing.T) {
	l, err := parseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
	_, err = parseLevel("loud")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "ledgerd v"+version+"\n", out.String())
}
