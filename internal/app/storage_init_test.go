package app

import (
	"context"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	defer deps.close(log.WithField("test", "memory-storage"))

	if deps.uow == nil || deps.customers == nil || deps.products == nil || deps.orders == nil {
		t.Fatal("storage repositories should not be nil for memory storage")
	}
	if deps.outboxRepo == nil {
		t.Fatal("outboxRepo should not be nil for memory storage")
	}
	if deps.idempotencyRepo == nil {
		t.Fatal("idempotencyRepo should not be nil for memory storage")
	}
	if len(deps.checkers) != 0 {
		t.Fatalf("memory storage has nothing to ping, got %d checkers", len(deps.checkers))
	}
}

func TestInitRuntimeDependencies_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "postgres without dsn",
			cfg:     Config{StorageDriver: StorageDriverPostgres},
			wantErr: "postgres dsn is empty",
		},
		{
			name:    "unsupported driver",
			cfg:     Config{StorageDriver: "sqlite"},
			wantErr: "unsupported storage driver",
		},
		{
			name:    "redis without addr",
			cfg:     Config{StorageDriver: StorageDriverMemory, IdempotencyBackend: IdempotencyBackendRedis},
			wantErr: "redis addr is empty",
		},
		{
			name:    "unsupported idempotency backend",
			cfg:     Config{StorageDriver: StorageDriverMemory, IdempotencyBackend: "memcached"},
			wantErr: "unsupported idempotency backend",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			deps, err := initRuntimeDependencies(context.Background(), tc.cfg, log.WithField("test", tc.name))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
			if deps != nil {
				t.Fatal("expected nil dependencies on error")
			}
		})
	}
}
