package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active incidents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		incidents, err := db.ListActiveIncidents(cmd.Context())
		if err != nil {
			return err
		}
		if len(incidents) == 0 {
			fmt.Println("No active incidents")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNODE\tGATEWAY\tPREDICTION\tCONFIDENCE\tSTARTED\tLAST UPDATE")
		for _, inc := range incidents {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
				inc.ID, inc.NodeID, inc.GatewayID, inc.AIPrediction, inc.Confidence,
				inc.StartedAt.Format(time.RFC3339), inc.LastUpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}
