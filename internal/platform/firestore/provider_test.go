package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/api/option"
)

func TestProviderRequiresProjectID(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	t.Setenv(envEmulatorHost, "")

	p := NewProvider(Config{}, WithDialTimeout(time.Second), WithClientOptions(option.WithoutAuthentication()))
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProjectIDRequired) {
		t.Fatalf("expected ErrProjectIDRequired, got %v", err)
	}
}

func TestProviderClosedRejectsClient(t *testing.T) {
	p := NewProvider(Config{ProjectID: "velvet-test"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestConfigResolvesFromEnvironment(t *testing.T) {
	t.Setenv(envGoogleProjectID, "env-project")
	t.Setenv(envEmulatorHost, "localhost:8681")

	got := Config{}.resolved()
	if got.ProjectID != "env-project" || got.EmulatorHost != "localhost:8681" {
		t.Fatalf("unexpected resolved config %+v", got)
	}
	got = Config{ProjectID: " explicit ", EmulatorHost: "emu:1"}.resolved()
	if got.ProjectID != "explicit" || got.EmulatorHost != "emu:1" {
		t.Fatalf("explicit values must win, got %+v", got)
	}

	p := NewProvider(Config{}, WithClientOptions(option.WithoutAuthentication()))
	if opts := p.clientOptions(Config{}); len(opts) != 1 {
		t.Fatalf("expected only the extra option without an emulator, got %d", len(opts))
	}
	if opts := p.clientOptions(got); len(opts) != 4 {
		t.Fatalf("expected emulator options appended, got %d", len(opts))
	}
}
