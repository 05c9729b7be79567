package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Checks the configured credentials against the portal and prints the resolved identity.",
	Run: func(cmd *cobra.Command, args []string) {
		session := login(cmd.Context(), readConfig())

		t := newTable()
		t.AppendHeader(table.Row{"person", "school", "group"})
		t.AppendRow(table.Row{
			session.Identity.PersonID,
			session.Identity.SchoolID,
			session.Identity.GroupID,
		})
		t.Render()
	},
}
