package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_OrderAndValues(t *testing.T) {
	partitions := []string{"p0", "p1", "p2", "p3", "p4", "p5"}

	results, err := Run(context.Background(), partitions, func(ctx context.Context, p string) (string, error) {
		// finish in reverse order
		time.Sleep(time.Duration(len(partitions)-int(p[1]-'0')) * time.Millisecond)
		return p + "-done", nil
	}, Options{Jobs: 3})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != len(partitions) {
		t.Fatalf("Run() returned %d results, want %d", len(results), len(partitions))
	}
	for i, r := range results {
		if r.Partition != partitions[i] || r.Value != partitions[i]+"-done" || r.Err != nil {
			t.Errorf("results[%d] = %+v", i, r)
		}
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	partitions := make([]string, 20)
	for i := range partitions {
		partitions[i] = fmt.Sprintf("p%d", i)
	}

	_, err := Run(context.Background(), partitions, func(ctx context.Context, p string) (int, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}, Options{Jobs: 4})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := peak.Load(); got > 4 {
		t.Errorf("peak concurrency = %d, want <= 4", got)
	}
}

func TestRun_FailureIsolated(t *testing.T) {
	boom := errors.New("boom")
	partitions := []string{"a", "b", "c"}

	results, err := Run(context.Background(), partitions, func(ctx context.Context, p string) (int, error) {
		if p == "b" {
			return 0, boom
		}
		return 1, nil
	}, Options{Jobs: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	var perr *PartitionError
	if !errors.As(err, &perr) || perr.Partition != "b" {
		t.Fatalf("Run() error = %v, want PartitionError for b", err)
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("healthy partitions failed: %+v", results)
	}
	if results[0].Value != 1 || results[2].Value != 1 {
		t.Errorf("healthy partitions lost values: %+v", results)
	}
}

func TestRun_FailFast(t *testing.T) {
	var ran atomic.Int32
	partitions := []string{"a", "b", "c", "d"}

	results, err := Run(context.Background(), partitions, func(ctx context.Context, p string) (int, error) {
		ran.Add(1)
		if p == "a" {
			return 0, errors.New("first")
		}
		<-ctx.Done()
		return 0, ctx.Err()
	}, Options{Jobs: 1, FailFast: true})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := ran.Load(); got != 1 {
		t.Errorf("ran %d partitions after fail-fast, want 1", got)
	}
	for _, r := range results[1:] {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("partition %s err = %v, want canceled", r.Partition, r.Err)
		}
	}
}

func TestRun_Timeout(t *testing.T) {
	results, err := Run(context.Background(), []string{"slow", "fast"}, func(ctx context.Context, p string) (int, error) {
		if p == "fast" {
			return 1, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(5 * time.Second):
			return 1, nil
		}
	}, Options{Jobs: 2, Timeout: 20 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	if results[1].Err != nil || results[1].Value != 1 {
		t.Errorf("fast partition = %+v", results[1])
	}
}

func TestRun_Empty(t *testing.T) {
	results, err := Run(context.Background(), nil, func(ctx context.Context, p string) (int, error) {
		t.Fatal("fn called")
		return 0, nil
	}, Options{})
	if err != nil || len(results) != 0 {
		t.Fatalf("Run() = %v, %v", results, err)
	}
}
