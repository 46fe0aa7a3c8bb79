package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ConduitPlatform/Conduit-sub006/adapters/sqlite"
	"github.com/ConduitPlatform/Conduit-sub006/config"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List routes persisted by services",
	Long: `List the route definitions services registered over gRPC. These are
re-registered when the gateway starts.

Examples:
  conduit routes
  conduit routes --service users
  conduit routes --json`,
	RunE: runRoutesList,
}

var (
	routesService string
	routesJSON    bool
)

func init() {
	rootCmd.AddCommand(routesCmd)

	routesCmd.Flags().StringVar(&routesService, "service", "", "only list routes of this service")
	routesCmd.Flags().BoolVar(&routesJSON, "json", false, "print definitions as JSON")
}

func openDatabase(cmd *cobra.Command) (*sqlite.DB, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is not configured")
	}
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func runRoutesList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	routes, err := sqlite.NewRouteStore(db).List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list routes: %w", err)
	}

	out := cmd.OutOrStdout()
	if routesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		for _, r := range routes {
			if routesService != "" && r.Owner != routesService {
				continue
			}
			if err := enc.Encode(r.Definition); err != nil {
				return err
			}
		}
		return nil
	}

	if len(routes) == 0 {
		fmt.Fprintln(out, "No routes found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tADDRESS\tKEY\tFUNCTION\tTOOL\tUPDATED")
	fmt.Fprintln(w, "-------\t-------\t---\t--------\t----\t-------")

	for _, r := range routes {
		if routesService != "" && r.Owner != routesService {
			continue
		}
		tool := "no"
		if r.Definition.ToolEligible {
			tool = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Owner, r.Address, r.Key(), r.Definition.Function, tool, r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	return w.Flush()
}
