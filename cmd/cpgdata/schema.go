package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/broadinstitute/cpg/internal/config"
	"github.com/broadinstitute/cpg/internal/record"
	"github.com/broadinstitute/cpg/internal/sink"
)

func newSchemaCmd(a *app) *cobra.Command {
	var ddl string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the measured record schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch ddl {
			case "":
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, c := range record.Schema() {
					fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Type)
				}
				return w.Flush()
			case config.SinkClickHouse:
				fmt.Fprintln(out, sink.ClickHouseDDL(a.cfg.ClickHouseTable))
			case config.SinkPostgres:
				fmt.Fprintln(out, sink.NewSQL(nil, sink.Postgres, a.cfg.SQLTable).DDL())
			case config.SinkSQLite:
				fmt.Fprintln(out, sink.NewSQL(nil, sink.SQLite, a.cfg.SQLTable).DDL())
			default:
				return fmt.Errorf("unknown ddl dialect %q", ddl)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ddl, "ddl", "", "Print CREATE TABLE for clickhouse, postgres or sqlite instead")
	return cmd
}
