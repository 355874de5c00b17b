// ABOUTME: The sources and ticket commands
// ABOUTME: Lists capture sources and decodes tickets for inspection
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sendspin/hearme/pkg/capture"
	"github.com/Sendspin/hearme/pkg/ticket"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List audio sources that can be shared",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SPEC\tKIND\tNAME\tDEFAULT")
		for _, info := range capture.ListSources(slog.Default()) {
			def := ""
			if info.Default {
				def = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Spec(), info.Kind, info.Name, def)
		}
		w.Flush()
	},
}

func newTicketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Work with share tickets",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <ticket>",
		Short: "Decode a ticket and print what it contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := ticket.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Print(describeTicket(t))
			return nil
		},
	})
	return cmd
}

func describeTicket(t ticket.Ticket) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Version\t%d\n", t.Version)
	fmt.Fprintf(w, "Session\t%s\n", t.SessionID)
	fmt.Fprintf(w, "Name\t%s\n", t.Name)
	fmt.Fprintf(w, "Transport\t%s\n", t.Transport)
	fmt.Fprintf(w, "Addresses\t%s\n", strings.Join(t.Addrs, ", "))
	if t.Fingerprint != "" {
		fmt.Fprintf(w, "Fingerprint\t%s\n", t.Fingerprint)
	}
	fmt.Fprintf(w, "Format\t%s\n", t.Format)
	w.Flush()
	return b.String()
}
