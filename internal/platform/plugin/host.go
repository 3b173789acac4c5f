package plugin

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// DomainPlugin extends the server with routes and tables. Plugins that also
// replace authorization handlers implement authz.Extension; the server wires
// those in registration order.
type DomainPlugin interface {
	Name() string
	RegisterRoutes(api *echo.Group)
	Migrate(ctx context.Context, pool *pgxpool.Pool) error
}

// Registry holds registered plugins in registration order.
type Registry struct {
	plugins []DomainPlugin
	names   map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds p. Names must be unique.
func (r *Registry) Register(p DomainPlugin) error {
	if r.names[p.Name()] {
		return fmt.Errorf("plugin %q already registered", p.Name())
	}
	r.names[p.Name()] = true
	r.plugins = append(r.plugins, p)
	return nil
}

func (r *Registry) RegisterRoutes(api *echo.Group) {
	for _, p := range r.plugins {
		p.RegisterRoutes(api)
	}
}

func (r *Registry) Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, p := range r.plugins {
		if err := p.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate plugin %s: %w", p.Name(), err)
		}
	}
	return nil
}

func (r *Registry) Plugins() []DomainPlugin {
	return r.plugins
}
