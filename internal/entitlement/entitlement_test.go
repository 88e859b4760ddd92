package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/digestman/internal/model"
)

type mockCounter struct {
	count int
	err   error
	since time.Time
}

func (m *mockCounter) CountSince(_ context.Context, _ string, since time.Time) (int, error) {
	m.since = since
	return m.count, m.err
}

func TestLimitsFor(t *testing.T) {
	tests := []struct {
		plan model.Plan
		want Limits
	}{
		{model.PlanFree, Limits{0, 0}},
		{model.PlanStarter, Limits{1, 1}},
		{model.PlanPro, Limits{3, 3}},
		{model.Plan("enterprise"), Limits{0, 0}},
	}
	for _, tt := range tests {
		if got := LimitsFor(tt.plan); got != tt.want {
			t.Errorf("LimitsFor(%q) = %+v, want %+v", tt.plan, got, tt.want)
		}
	}
}

func TestChecker_DisabledAllowsEverything(t *testing.T) {
	c := NewChecker(false, &mockCounter{count: 100}, nil)
	user := &model.User{ID: "u1", Plan: model.PlanFree}

	if ok, _ := c.CanAddFeed(user, 50); !ok {
		t.Error("CanAddFeed should allow when disabled")
	}
	if !c.CanSchedule(user) {
		t.Error("CanSchedule should allow when disabled")
	}
	if ok, err := c.AllowDigest(context.Background(), user, time.Now()); !ok || err != nil {
		t.Errorf("AllowDigest = %v, %v; want true, nil", ok, err)
	}
}

func TestChecker_CanAddFeed(t *testing.T) {
	c := NewChecker(true, &mockCounter{}, nil)
	pro := &model.User{Plan: model.PlanPro}

	if ok, _ := c.CanAddFeed(pro, 2); !ok {
		t.Error("pro with 2 feeds should be able to add one more")
	}
	if ok, limit := c.CanAddFeed(pro, 3); ok || limit != 3 {
		t.Errorf("CanAddFeed(pro, 3) = %v, %d; want false, 3", ok, limit)
	}
	if !c.CanSchedule(pro) || c.CanSchedule(&model.User{Plan: model.PlanFree}) {
		t.Error("CanSchedule should allow pro and reject free")
	}
}

func TestChecker_AllowDigest_CountsFromStartOfCanonicalDay(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	counter := &mockCounter{count: 1}
	c := NewChecker(true, counter, tokyo)
	now := time.Date(2025, 3, 3, 1, 0, 0, 0, time.UTC) // 東京では10:00

	ok, err := c.AllowDigest(context.Background(), &model.User{ID: "u1", Plan: model.PlanStarter}, now)
	if err != nil {
		t.Fatalf("AllowDigest error = %v", err)
	}
	if ok {
		t.Error("starter already sent 1 today, should be rejected")
	}
	wantSince := time.Date(2025, 3, 3, 0, 0, 0, 0, tokyo)
	if !counter.since.Equal(wantSince) {
		t.Errorf("since = %v, want %v", counter.since, wantSince)
	}
}

func TestChecker_AllowDigest_Errors(t *testing.T) {
	storeErr := errors.New("db down")
	c := NewChecker(true, &mockCounter{err: storeErr}, time.UTC)

	if _, err := c.AllowDigest(context.Background(), &model.User{Plan: model.PlanPro}, time.Now()); !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want wrapped %v", err, storeErr)
	}
	// freeは問い合わせずに拒否
	if ok, err := c.AllowDigest(context.Background(), &model.User{Plan: model.PlanFree}, time.Now()); ok || err != nil {
		t.Errorf("free AllowDigest = %v, %v; want false, nil", ok, err)
	}
}
