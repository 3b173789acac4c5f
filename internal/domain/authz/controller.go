package authz

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/care/emr/internal/platform/apperr"
)

type Action func(ctx context.Context, c *Controller, u *User, a Args) (bool, error)

type Query func(ctx context.Context, c *Controller, u *User, a Args) (Scope, error)

// Extension is implemented by plugins that override authorization handlers.
type Extension interface {
	AuthzOverrides() (map[string]Action, map[string]Query)
}

type override struct {
	source  string
	actions map[string]Action
	queries map[string]Query
}

// Controller dispatches can_* and get_* names to handlers. The registry is
// built on first use; overrides registered before that take precedence over
// the built-in handlers, earlier overrides winning over later ones.
type Controller struct {
	roles      RoleSource
	grants     GrantSource
	encounters EncounterSource
	logger     zerolog.Logger

	mu        sync.Mutex
	overrides []override
	built     bool
	once      sync.Once
	actions   map[string]Action
	queries   map[string]Query
}

func NewController(roles RoleSource, grants GrantSource, encounters EncounterSource, logger zerolog.Logger) *Controller {
	return &Controller{roles: roles, grants: grants, encounters: encounters, logger: logger}
}

// Override registers plugin handlers. It must run before the first check.
func (c *Controller) Override(source string, actions map[string]Action, queries map[string]Query) error {
	for name := range actions {
		if !strings.HasPrefix(name, "can_") {
			return fmt.Errorf("authz override %s: action %q must start with can_", source, name)
		}
	}
	for name := range queries {
		if !strings.HasPrefix(name, "get_") {
			return fmt.Errorf("authz override %s: query %q must start with get_", source, name)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.built {
		return fmt.Errorf("authz override %s: registry already built", source)
	}
	c.overrides = append(c.overrides, override{source: source, actions: actions, queries: queries})
	return nil
}

func (c *Controller) build() {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.built = true

		c.actions = make(map[string]Action, len(builtinActions))
		c.queries = make(map[string]Query, len(builtinQueries))
		for name, fn := range builtinActions {
			c.actions[name] = fn
		}
		for name, fn := range builtinQueries {
			c.queries[name] = fn
		}

		claimed := map[string]string{}
		for _, o := range c.overrides {
			for name, fn := range o.actions {
				if by, ok := claimed[name]; ok {
					c.logger.Warn().Str("name", name).Str("source", o.source).Str("kept", by).Msg("authz override shadowed")
					continue
				}
				claimed[name] = o.source
				c.actions[name] = fn
			}
			for name, fn := range o.queries {
				if by, ok := claimed[name]; ok {
					c.logger.Warn().Str("name", name).Str("source", o.source).Str("kept", by).Msg("authz override shadowed")
					continue
				}
				claimed[name] = o.source
				c.queries[name] = fn
			}
		}
	})
}

// Can evaluates an action. Anonymous callers are always denied.
func (c *Controller) Can(ctx context.Context, name string, u *User, a Args) (bool, error) {
	c.build()
	fn, ok := c.actions[name]
	if !ok {
		return false, apperr.Internal(fmt.Errorf("unknown authorization action %q", name))
	}
	if u == nil {
		return false, nil
	}
	return fn(ctx, c, u, a)
}

// Require is Can that turns a denial into FORBIDDEN.
func (c *Controller) Require(ctx context.Context, name string, u *User, a Args) error {
	ok, err := c.Can(ctx, name, u, a)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("")
	}
	return nil
}

// Filter evaluates a query.
func (c *Controller) Filter(ctx context.Context, name string, u *User, a Args) (Scope, error) {
	c.build()
	fn, ok := c.queries[name]
	if !ok {
		return Scope{}, apperr.Internal(fmt.Errorf("unknown authorization query %q", name))
	}
	if u == nil {
		return Scope{}, nil
	}
	return fn(ctx, c, u, a)
}
