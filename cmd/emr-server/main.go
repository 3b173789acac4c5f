package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/care/emr/internal/config"
	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/permission"
	"github.com/care/emr/internal/domain/user"
	"github.com/care/emr/internal/domain/valueset"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/cache"
	"github.com/care/emr/internal/platform/db"
	"github.com/care/emr/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "emr-server",
		Short: "EMR authorization and scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// connect loads configuration and opens the pool for one-shot commands.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run tenant schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "default", "Tenant whose schema is migrated")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "default", "Tenant whose schema is inspected")
	cmd.AddCommand(statusCmd)

	return cmd
}

// seedPermissions upserts the permission catalog and system roles of the
// tenant bound to ctx.
func seedPermissions(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) error {
	svc := permission.NewService(permission.NewRepo(pool), cache.NewMemoryKV(1024), db.NewTxManager(pool), cfg.RoleCacheTTL, logger)
	res, err := svc.Seed(ctx)
	if err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	fmt.Printf("Seeded %d permission(s) and %d role(s).\n", res.Permissions, res.Roles)
	return nil
}

func seedValueSets(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	// System valuesets are written without an acting user, so the controller
	// needs no sources.
	ctrl := authz.NewController(nil, nil, nil, logger)
	n, err := valueset.NewService(valueset.NewRepo(pool), ctrl, logger).SyncSystemDefined(ctx)
	if err != nil {
		return fmt.Errorf("sync valuesets: %w", err)
	}
	fmt.Printf("Synced %d system valueset(s).\n", n)
	return nil
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed reference data into a tenant",
	}
	run := func(seed func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx, release, err := db.WithTenant(ctx, pool, tenant)
			if err != nil {
				return err
			}
			defer release()
			return seed(ctx, cfg, pool, newLogger(cfg))
		}
	}

	permsCmd := &cobra.Command{
		Use:   "permissions",
		Short: "Upsert the permission catalog and system roles",
		RunE:  run(seedPermissions),
	}
	valueSetsCmd := &cobra.Command{
		Use:   "valuesets",
		Short: "Create or update the system valuesets",
		RunE: run(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) error {
			return seedValueSets(ctx, pool, logger)
		}),
	}
	for _, c := range []*cobra.Command{permsCmd, valueSetsCmd} {
		c.Flags().String("tenant", "default", "Target tenant")
		cmd.AddCommand(c)
	}
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create, migrate and seed a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			tctx, release, err := db.WithTenant(ctx, pool, name)
			if err != nil {
				return err
			}
			defer release()
			logger := newLogger(cfg)
			if err := seedPermissions(tctx, cfg, pool, logger); err != nil {
				return err
			}
			if err := seedValueSets(tctx, pool, logger); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	cmd.AddCommand(createCmd)
	return cmd
}

// tokenCmd mints an access token for an existing user. Staff sign-in is
// handled by an external identity provider; this covers local development.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			tenant, _ := cmd.Flags().GetString("tenant")
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if cfg.JWTSigningKey == "" {
				return fmt.Errorf("JWT_SIGNING_KEY must be set to issue tokens")
			}

			ctx, release, err := db.WithTenant(ctx, pool, tenant)
			if err != nil {
				return err
			}
			defer release()
			u, err := user.NewService(user.NewRepo(pool)).GetUserByUsername(ctx, username)
			if err != nil {
				return err
			}
			tok, err := auth.NewIssuer([]byte(cfg.JWTSigningKey), cfg.JWTIssuer, cfg.AccessTokenTTL).
				IssueAccess(u.ExternalID, u.Username, tenant)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().String("username", "", "Username to issue the token for")
	cmd.Flags().String("tenant", "default", "Tenant the token is scoped to")
	return cmd
}
