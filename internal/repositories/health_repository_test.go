package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/velvetwardrobe/storefront/internal/domain"
)

func TestDependencyHealthRepositoryAggregatesStatus(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "storage", Check: func(context.Context) error { return nil }},
		{Name: "registration", Optional: true, Check: func(context.Context) error { return errors.New("connection refused") }},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Checks["storage"].Status != domain.HealthStatusOK {
		t.Fatalf("expected storage ok, got %+v", report.Checks["storage"])
	}
	if got := report.Checks["registration"]; got.Status != domain.HealthStatusDegraded || got.Error != "connection refused" {
		t.Fatalf("unexpected registration check %+v", got)
	}
}

func TestDependencyHealthRepositoryFailsOnRequiredCheck(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "storage", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if report.Checks["storage"].Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %q", report.Checks["storage"].Detail)
	}
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatal("expected error for empty checks")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "storage"}}); err == nil {
		t.Fatal("expected error for missing check func")
	}
}
