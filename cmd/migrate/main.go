package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	"GebLedger/internal/observability"
	"GebLedger/internal/persistence"

	_ "github.com/lib/pq"
	"gopkg.in/urfave/cli.v1"
)

var (
	postgresFlag = cli.StringFlag{
		Name:   "postgres",
		Usage:  "Postgres connection string",
		EnvVar: "GEB_POSTGRES_DSN",
		Value:  "postgres://localhost:5432/gebledger?sslmode=disable",
	}
	dirFlag = cli.StringFlag{
		Name:   "dir",
		Usage:  "path to migrations directory",
		EnvVar: "GEB_MIGRATIONS_DIR",
		Value:  "migrations",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "migrate"
	app.Usage = "apply or roll back GebLedger schema migrations"
	app.Writer = os.Stdout
	app.Flags = []cli.Flag{postgresFlag, dirFlag}
	app.Commands = []cli.Command{
		{
			Name:   "up",
			Usage:  "apply all pending migrations",
			Action: withMigrator(func(ctx context.Context, m *persistence.Migrator, _ *cli.Context) error { return m.Up(ctx) }),
		},
		{
			Name:   "down",
			Usage:  "roll back the last migration",
			Action: withMigrator(func(ctx context.Context, m *persistence.Migrator, _ *cli.Context) error { return m.Down(ctx) }),
		},
		{
			Name:   "status",
			Usage:  "list migrations and whether they are applied",
			Action: withMigrator(printStatus),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func withMigrator(run func(context.Context, *persistence.Migrator, *cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		db, err := sql.Open("postgres", c.GlobalString(postgresFlag.Name))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		logger := observability.NewLoggerTo(os.Stderr, "migrate", observability.ParseLogLevel(os.Getenv("GEB_LOG_LEVEL")))
		migrator := persistence.NewMigrator(db, c.GlobalString(dirFlag.Name), logger)
		return run(context.Background(), migrator, c)
	}
}

func printStatus(ctx context.Context, m *persistence.Migrator, c *cli.Context) error {
	migrations, err := m.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tAPPLIED\tFILE")
	for _, mg := range migrations {
		fmt.Fprintf(w, "%s\t%t\t%s\n", mg.Version, mg.Applied, mg.UpFile)
	}
	return w.Flush()
}
