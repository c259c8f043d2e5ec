package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/leadsync/internal/models"
)

func newToggleAICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle-ai [contact-id]",
		Short: "Hand a contact between the AI agent and a human operator",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runToggleAI(cmd, args)
		},
	}
}

type toggleOutput struct {
	ContactID  string            `json:"contact_id"`
	AgentState models.AgentState `json:"agent_state"`
}

func (a *app) runToggleAI(cmd *cobra.Command, args []string) error {
	contactID, _, err := a.resolveConversation(args)
	if err != nil {
		return err
	}
	contactID = strings.TrimSpace(contactID)
	client, err := a.newClient()
	if err != nil {
		return err
	}
	agent, err := client.ToggleAI(cmd.Context(), contactID)
	if err != nil {
		return apiExit("toggle ai", err)
	}
	if a.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), toggleOutput{ContactID: contactID, AgentState: agent})
	}
	switch agent {
	case models.AgentStateHuman:
		a.printf(cmd, "%s is now handled by a human operator\n", contactID)
	default:
		a.printf(cmd, "%s is now handled by the AI agent\n", contactID)
	}
	return nil
}
