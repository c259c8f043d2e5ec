package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/leadsync/internal/models"
)

func newLeadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lead [phone]",
		Short: "Show the lead and latest proposal for a phone number",
		Long: `Resolve the CRM lead for a phone number the way the inbox side panel does.

Without an argument the phone of the saved conversation is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLead(cmd, args)
		},
	}
}

func (a *app) runLead(cmd *cobra.Command, args []string) error {
	phone := ""
	if len(args) > 0 {
		phone = models.NormalizePhone(args[0])
	} else {
		saved, err := a.loadContext()
		if err != nil {
			return err
		}
		phone = models.PhoneFromJID(saved.RemoteJID)
	}
	if strings.TrimSpace(phone) == "" {
		return Exitf(ExitCodeUsage, "no phone given and the saved conversation has none")
	}

	client, err := a.newClient()
	if err != nil {
		return err
	}
	record, err := a.newSidePanel(client).FetchFor(cmd.Context(), phone)
	if err != nil {
		return apiExit("fetch lead", err)
	}

	if a.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), record)
	}
	if !record.HasLead() {
		a.printf(cmd, "No lead for %s\n", phone)
		return nil
	}
	t := newTable("FIELD", "VALUE")
	t.add("Lead", formatOptional(record.LeadName))
	t.add("Status", formatOptional(record.LeadStatus))
	t.add("Balance", formatMoney(record.Balance))
	t.add("Simulation", formatMoney(record.Simulation))
	t.add("Proposal", formatOptional(record.ProposalStatus))
	t.add("Proposal value", formatMoney(record.ProposalValue))
	if record.ProposalCreatedAt != nil {
		t.add("Proposal created", formatAgo(*record.ProposalCreatedAt))
	}
	return t.render(cmd.OutOrStdout())
}
