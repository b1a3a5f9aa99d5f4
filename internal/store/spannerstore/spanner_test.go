package spannerstore

import (
	"context"
	"fmt"
	"os"
	"testing"

	"cloud.google.com/go/spanner"
	database "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
	instance "cloud.google.com/go/spanner/admin/instance/apiv1"
	"cloud.google.com/go/spanner/admin/instance/apiv1/instancepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ocx/agentrep/internal/store"
	"github.com/ocx/agentrep/internal/store/storetest"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// emulatorConfig creates the instance and database on the emulator named by
// SPANNER_EMULATOR_HOST, or skips the test.
func emulatorConfig(t *testing.T) Config {
	t.Helper()
	if os.Getenv("SPANNER_EMULATOR_HOST") == "" {
		t.Skip("SPANNER_EMULATOR_HOST not set")
	}
	cfg := Config{
		Project:  envOr("AGENTREP_TEST_SPANNER_PROJECT", "agentrep-test"),
		Instance: envOr("AGENTREP_TEST_SPANNER_INSTANCE", "agentrep"),
		Database: envOr("AGENTREP_TEST_SPANNER_DATABASE", "ledger"),
	}
	ctx := context.Background()

	instances, err := instance.NewInstanceAdminClient(ctx)
	require.NoError(t, err)
	defer instances.Close()
	iop, err := instances.CreateInstance(ctx, &instancepb.CreateInstanceRequest{
		Parent:     "projects/" + cfg.Project,
		InstanceId: cfg.Instance,
		Instance: &instancepb.Instance{
			Config:      fmt.Sprintf("projects/%s/instanceConfigs/emulator-config", cfg.Project),
			DisplayName: cfg.Instance,
			NodeCount:   1,
		},
	})
	if err == nil {
		_, err = iop.Wait(ctx)
	}
	if status.Code(err) != codes.AlreadyExists {
		require.NoError(t, err)
	}

	databases, err := database.NewDatabaseAdminClient(ctx)
	require.NoError(t, err)
	defer databases.Close()
	dop, err := databases.CreateDatabase(ctx, &databasepb.CreateDatabaseRequest{
		Parent:          fmt.Sprintf("projects/%s/instances/%s", cfg.Project, cfg.Instance),
		CreateStatement: "CREATE DATABASE `" + cfg.Database + "`",
		ExtraStatements: DDL,
	})
	if err == nil {
		_, err = dop.Wait(ctx)
	}
	if status.Code(err) != codes.AlreadyExists {
		require.NoError(t, err)
	}
	return cfg
}

// openClean opens the emulator database with every record deleted.
func openClean(t *testing.T, cfg Config) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = s.client.Apply(ctx, []*spanner.Mutation{spanner.Delete(table, spanner.AllKeys())})
	require.NoError(t, err)
	return s
}

func TestSpannerStore(t *testing.T) {
	cfg := emulatorConfig(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		return openClean(t, cfg)
	})
}

func TestOpenRequiresDatabasePath(t *testing.T) {
	_, err := Open(context.Background(), Config{Project: "p"}, nil)
	assert.ErrorContains(t, err, "project, instance and database are required")
}

func TestConfigPath(t *testing.T) {
	cfg := Config{Project: "p", Instance: "i", Database: "d"}
	assert.Equal(t, "projects/p/instances/i/databases/d", cfg.path())
}
