package operator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pspoerri/tilecachegw/internal/coord"
)

func TestRun_VisitsEveryTileOnce(t *testing.T) {
	ranges := []coord.TileRange{{Z: 5, MinX: 0, MinY: 0, MaxX: 3, MaxY: 3}}
	var visited atomic.Int64
	seen := make(map[[3]int]bool)
	var mu sync.Mutex

	stats := Run(context.Background(), Config{Concurrency: 4}, ranges, func(_ context.Context, z, x, y int) error {
		visited.Add(1)
		mu.Lock()
		seen[[3]int{z, x, y}] = true
		mu.Unlock()
		return nil
	})

	if stats.Issued != 16 || stats.Succeeded != 16 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want Issued=16 Succeeded=16 Failed=0", stats)
	}
	if len(seen) != 16 {
		t.Fatalf("expected 16 distinct tiles visited, got %d", len(seen))
	}
}

func TestRun_SwallowsPerTileErrors(t *testing.T) {
	ranges := []coord.TileRange{{Z: 1, MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}}

	stats := Run(context.Background(), Config{Concurrency: 2}, ranges, func(_ context.Context, z, x, y int) error {
		if x == 0 && y == 0 {
			return errors.New("boom")
		}
		return nil
	})

	if stats.Issued != 4 {
		t.Fatalf("Issued = %d, want 4", stats.Issued)
	}
	if stats.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", stats.Failed)
	}
	if stats.Succeeded != 3 {
		t.Fatalf("Succeeded = %d, want 3", stats.Succeeded)
	}
}

func TestRun_RespectsConcurrencyBound(t *testing.T) {
	ranges := []coord.TileRange{{Z: 3, MinX: 0, MinY: 0, MaxX: 7, MaxY: 0}}
	var current, maxSeen atomic.Int64

	Run(context.Background(), Config{Concurrency: 2}, ranges, func(_ context.Context, z, x, y int) error {
		n := current.Add(1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return nil
	})

	if got := maxSeen.Load(); got > 2 {
		t.Errorf("observed concurrency %d, want <= 2", got)
	}
}

func TestRun_StopsIssuingOnCancel(t *testing.T) {
	ranges := []coord.TileRange{{Z: 10, MinX: 0, MinY: 0, MaxX: 1000, MaxY: 0}}
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int64
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	stats := Run(ctx, Config{Concurrency: 1}, ranges, func(_ context.Context, z, x, y int) error {
		started.Add(1)
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	require.Less(t, stats.Issued, int64(1001))
}
