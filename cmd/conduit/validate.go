package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ConduitPlatform/Conduit-sub006/adapters/sqlite"
	"github.com/ConduitPlatform/Conduit-sub006/config"
	"github.com/ConduitPlatform/Conduit-sub006/core/graphql"
)

var validateCmd = &cobra.Command{
	Use:   "validate [routes.yaml...]",
	Short: "Validate configuration or route files",
	Long: `Validate the gateway configuration, or the route files given as arguments.

Config checks:
  - YAML syntax is valid
  - Values are in range
  - Service route files parse
  - Database is writable (optional)

Route file checks:
  - Every definition is well formed
  - Keys are unique across files
  - The generated GraphQL schema is valid

Examples:
  conduit validate
  conduit validate --config /etc/conduit/conduit.yaml
  conduit validate users.yaml chat.yaml`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) > 0 {
		return validateRoutes(out, args)
	}

	path := configPath(cmd)
	fmt.Fprintf(out, "Validating %s...\n\n", displayPath(path))

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	for _, svc := range cfg.Services {
		if _, err := loadRoutes([]string{svc.Routes}); err != nil {
			fmt.Fprintf(out, "  %s Service %s routes\n", crossMark, svc.Name)
			return fmt.Errorf("service %s: %w", svc.Name, err)
		}
		fmt.Fprintf(out, "  %s Service %s routes\n", checkMark, svc.Name)
	}

	if validateCheckDatabase && cfg.Database.DSN != "" {
		if err := checkDatabaseWritable(cfg.Database.DSN); err != nil {
			fmt.Fprintf(out, "  %s Database writable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Database writable\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func validateRoutes(out io.Writer, paths []string) error {
	routes, err := loadRoutes(paths)
	if err != nil {
		fmt.Fprintf(out, "  %s Route definitions\n", crossMark)
		return err
	}
	for _, r := range routes {
		fmt.Fprintf(out, "  %s %s (%s)\n", checkMark, r.Key(), r.Owner)
	}

	doc := graphql.Build(routes)
	if _, err := doc.Validate(); err != nil {
		fmt.Fprintf(out, "  %s GraphQL schema\n", crossMark)
		return fmt.Errorf("graphql: %w", err)
	}
	fmt.Fprintf(out, "  %s GraphQL schema\n", checkMark)
	for _, name := range doc.Dangling {
		fmt.Fprintf(out, "      Warning: relation to unknown type %s rendered as ID\n", name)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%d routes are valid.\n", len(routes))
	return nil
}

func checkDatabaseWritable(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec("CREATE TABLE IF NOT EXISTS conduit_write_check (id INTEGER); DROP TABLE conduit_write_check")
	return err
}

func displayPath(path string) string {
	if path == "" {
		return "defaults and environment"
	}
	return path
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
