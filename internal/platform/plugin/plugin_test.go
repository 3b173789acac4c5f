package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type testPlugin struct {
	name          string
	routesCalled  bool
	migrateCalled bool
	migrateErr    error
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) RegisterRoutes(api *echo.Group) {
	p.routesCalled = true
}

func (p *testPlugin) Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	p.migrateCalled = true
	return p.migrateErr
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&testPlugin{name: "test-plugin"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plugins := reg.Plugins()
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}
	if plugins[0].Name() != "test-plugin" {
		t.Errorf("expected test-plugin, got %s", plugins[0].Name())
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&testPlugin{name: "dup"})
	if err := reg.Register(&testPlugin{name: "dup"}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRegistry_PreservesOrder(t *testing.T) {
	reg := NewRegistry()
	for _, n := range []string{"c", "a", "b"} {
		reg.Register(&testPlugin{name: n})
	}
	var got string
	for _, p := range reg.Plugins() {
		got += p.Name()
	}
	if got != "cab" {
		t.Errorf("expected registration order cab, got %s", got)
	}
}

func TestRegistry_RegisterRoutes(t *testing.T) {
	reg := NewRegistry()
	p := &testPlugin{name: "route-plugin"}
	reg.Register(p)

	e := echo.New()
	reg.RegisterRoutes(e.Group("/api/v1"))

	if !p.routesCalled {
		t.Error("expected RegisterRoutes to be called on plugin")
	}
}

func TestRegistry_Migrate(t *testing.T) {
	reg := NewRegistry()
	p := &testPlugin{name: "migrate-plugin"}
	reg.Register(p)

	if err := reg.Migrate(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.migrateCalled {
		t.Error("expected Migrate to be called on plugin")
	}
}

func TestRegistry_MigrateStopsOnError(t *testing.T) {
	reg := NewRegistry()
	failing := &testPlugin{name: "bad", migrateErr: errors.New("boom")}
	after := &testPlugin{name: "after"}
	reg.Register(failing)
	reg.Register(after)

	if err := reg.Migrate(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	if after.migrateCalled {
		t.Error("later plugins must not migrate after a failure")
	}
}
