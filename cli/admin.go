package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"wa-console/adminsync"
	"wa-console/types"

	"github.com/spf13/cobra"
)

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the client fleet",
	}
	cmd.AddCommand(
		newAdminListCmd(a),
		newAdminGetCmd(a),
		newAdminCreateCmd(a),
		newAdminUpdateCmd(a),
		newAdminToggleCmd(a),
		newAdminDeleteCmd(a),
		newAdminEmailCmd(a),
		newAdminResendCmd(a),
		newAdminStatusCmd(a),
		newAdminChatsCmd(a),
		newAdminThreadsCmd(a),
		newAdminQRCmd(a),
		newAdminWatchCmd(a),
		newAdminShareCmd(a),
		newAdminExportCmd(a),
	)
	return cmd
}

func newAdminListCmd(a *app) *cobra.Command {
	var withStatus bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fleet := a.fleet()
			defer fleet.Close()
			if err := fleet.ListClients(cmd.Context()); err != nil {
				return a.report(err)
			}
			if withStatus {
				fleet.SweepStatuses(cmd.Context())
			}
			printRows(a.out, fleet.Clients())
			return nil
		},
	}
	cmd.Flags().BoolVar(&withStatus, "status", false, "Fetch the live WhatsApp status of every client")
	return cmd
}

func printRows(out io.Writer, rows []adminsync.Row) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tLINK\tSTATUS\tPHONE")
	for _, row := range rows {
		status := row.Client.Status
		phone := "-"
		if row.Client.ConnectedPhone != nil {
			phone = *row.Client.ConnectedPhone
		}
		if row.State != nil {
			status = string(row.State.Status)
			if row.State.ConnectedPhone != nil {
				phone = *row.State.ConnectedPhone
			}
		}
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", row.Client.ID, row.Client.Name, row.Client.Email, row.Client.UniqueURL, status, phone)
	}
	w.Flush()
}

func printClient(out io.Writer, c types.ClientRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", c.ID)
	fmt.Fprintf(w, "Name:\t%s\n", c.Name)
	fmt.Fprintf(w, "Email:\t%s\n", c.Email)
	fmt.Fprintf(w, "Link:\t%s\n", c.UniqueURL)
	fmt.Fprintf(w, "Status:\t%s\n", c.Status)
	fmt.Fprintf(w, "Connected:\t%t\n", c.Connected)
	if c.ConnectedPhone != nil {
		fmt.Fprintf(w, "Phone:\t%s\n", *c.ConnectedPhone)
	}
	if c.AssistantID != "" {
		fmt.Fprintf(w, "Assistant:\t%s\n", c.AssistantID)
	}
	if c.APIKeyHint != "" {
		fmt.Fprintf(w, "API key:\t%s\n", c.APIKeyHint)
	}
	if c.CreatedAt != nil {
		fmt.Fprintf(w, "Created:\t%s\n", c.CreatedAt.Format(time.RFC3339))
	}
	if c.LastActivity != nil {
		fmt.Fprintf(w, "Last activity:\t%s\n", c.LastActivity.Format(time.RFC3339))
	}
	w.Flush()
}

// printNotices flushes the fleet's notices after a one-shot action
func printNotices(out io.Writer, fleet *adminsync.Fleet) {
	for _, n := range fleet.Notices().List() {
		fmt.Fprintln(out, n.Message)
	}
}

func newAdminGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <clientId>",
		Short: "Show one client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fleet := a.fleet()
			defer fleet.Close()
			rec, err := fleet.GetClient(cmd.Context(), args[0])
			if err != nil {
				return a.report(err)
			}
			printClient(a.out, rec)
			return nil
		},
	}
}

func newAdminCreateCmd(a *app) *cobra.Command {
	var form types.CreateClientForm
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a client and send its onboarding email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fleet := a.fleet()
			defer fleet.Close()
			rec, err := fleet.CreateClient(cmd.Context(), form)
			if err != nil {
				return a.report(err)
			}
			printNotices(a.out, fleet)
			printClient(a.out, rec)
			return nil
		},
	}
	cmd.Flags().StringVar(&form.Name, "name", "", "Client name")
	cmd.Flags().StringVar(&form.Email, "email", "", "Contact email")
	cmd.Flags().StringVar(&form.APIKey, "api-key", "", "OpenAI API key")
	cmd.Flags().StringVar(&form.AssistantID, "assistant-id", "", "OpenAI assistant ID")
	return cmd
}

func newAdminUpdateCmd(a *app) *cobra.Command {
	var name, email, apiKey, assistantID string
	cmd := &cobra.Command{
		Use:   "update <clientId>",
		Short: "Edit the fields of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var update types.ClientUpdate
			flags := cmd.Flags()
			if flags.Changed("name") {
				update.Name = &name
			}
			if flags.Changed("email") {
				update.Email = &email
			}
			if flags.Changed("api-key") {
				update.APIKey = &apiKey
			}
			if flags.Changed("assistant-id") {
				update.AssistantID = &assistantID
			}
			if update == (types.ClientUpdate{}) {
				return fmt.Errorf("nothing to update")
			}

			fleet := a.fleet()
			defer fleet.Close()
			rec, err := fleet.UpdateClient(cmd.Context(), args[0], update)
			if err != nil {
				return a.report(err)
			}
			printNotices(a.out, fleet)
			printClient(a.out, rec)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&email, "email", "", "New contact email")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "New OpenAI API key")
	cmd.Flags().StringVar(&assistantID, "assistant-id", "", "New OpenAI assistant ID")
	return cmd
}

func newAdminToggleCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:       "toggle <clientId> <on|off>",
		Short:     "Activate or deactivate a client's WhatsApp channel",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var active bool
			switch strings.ToLower(args[1]) {
			case "on", "activate", "connect":
				active = true
			case "off", "deactivate", "disconnect":
				active = false
			default:
				return fmt.Errorf("state must be on or off, got %q", args[1])
			}
			fleet := a.fleet()
			defer fleet.Close()
			err := fleet.ToggleClient(cmd.Context(), args[0], active, a.confirmer(yes))
			if err == nil {
				printNotices(a.out, fleet)
			}
			return a.report(err)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newAdminDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <clientId>",
		Short: "Delete a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fleet := a.fleet()
			defer fleet.Close()
			err := fleet.DeleteClient(cmd.Context(), args[0], a.confirmer(yes))
			if err == nil {
				printNotices(a.out, fleet)
			}
			return a.report(err)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newAdminEmailCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "email <clientId> <newEmail>",
		Short: "Change the contact email of a client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fleet := a.fleet()
			defer fleet.Close()
			err := fleet.UpdateEmail(cmd.Context(), args[0], args[1])
			if err == nil {
				printNotices(a.out, fleet)
			}
			return a.report(err)
		},
	}
}

func newAdminResendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resend <clientId>",
		Short: "Send the onboarding email again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fleet := a.fleet()
			defer fleet.Close()
			err := fleet.ResendInvite(cmd.Context(), args[0])
			if err == nil {
				printNotices(a.out, fleet)
			}
			return a.report(err)
		},
	}
}

func newAdminStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <clientId>",
		Short: "Show the live WhatsApp status of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fleet := a.fleet()
			defer fleet.Close()
			state, err := fleet.ClientStatus(cmd.Context(), args[0])
			if err != nil {
				return a.report(err)
			}
			fmt.Fprintf(a.out, "%s: %s\n", args[0], state.Status)
			return nil
		},
	}
}
