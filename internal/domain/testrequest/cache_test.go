package testrequest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCacheKey(t *testing.T) {
	if got := cacheKey(42); got != "test_request:42" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestRequestCache_NilIsNoop(t *testing.T) {
	var rc *requestCache
	ctx := context.Background()
	if _, ok := rc.get(ctx, 1); ok {
		t.Error("nil cache should always miss")
	}
	rc.put(ctx, &TestRequest{ID: 1})
	rc.fill(ctx, &TestRequest{ID: 1})
	rc.invalidate(ctx, 1)

	if newRequestCache(nil, time.Second, zerolog.Nop()) != nil {
		t.Error("expected nil cache without a backend")
	}
}

func TestRequestCache_RoundTripKeepsChildren(t *testing.T) {
	backend := newMockCache()
	rc := newRequestCache(backend, time.Minute, zerolog.Nop())
	ctx := context.Background()

	rc.put(ctx, &TestRequest{
		ID:        3,
		Status:    StatusLabTestCompleted,
		LabResult: &LabResult{TesterID: "tester-1", Result: TestNegative},
		VersionID: 3,
	})
	got, ok := rc.get(ctx, 3)
	if !ok {
		t.Fatal("expected a hit")
	}
	if got.LabResult == nil || got.LabResult.Result != TestNegative || got.VersionID != 3 {
		t.Errorf("unexpected cached value %+v", got)
	}
	if !got.Consistent() {
		t.Error("cached request should stay consistent")
	}
}

func TestRequestCache_FillDoesNotReplaceEntry(t *testing.T) {
	backend := newMockCache()
	rc := newRequestCache(backend, time.Minute, zerolog.Nop())
	ctx := context.Background()

	rc.put(ctx, &TestRequest{ID: 5, Status: StatusLabTestInProgress, VersionID: 2})
	rc.fill(ctx, &TestRequest{ID: 5, Status: StatusInitiated, VersionID: 1})

	got, ok := rc.get(ctx, 5)
	if !ok || got.Status != StatusLabTestInProgress || got.VersionID != 2 {
		t.Errorf("fill replaced a newer entry: %+v", got)
	}

	rc.put(ctx, &TestRequest{ID: 5, Status: StatusLabTestCompleted, VersionID: 3})
	if got, _ := rc.get(ctx, 5); got.VersionID != 3 {
		t.Errorf("put should overwrite, got v%d", got.VersionID)
	}
}
