package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/leadsync/internal/config"
)

func newUseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use",
		Short: "Show or set the saved instance and conversation",
		Long: `Show or set the context other commands fall back to.

  leadsync use                              show the current context
  leadsync use --instance sales             filter contacts by instance
  leadsync use --conversation 42 --to 5511999990000@s.whatsapp.net
  leadsync use --clear                      forget everything`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runUse(cmd)
		},
	}
	cmd.Flags().String("instance", "", "WhatsApp instance id")
	cmd.Flags().String("instance-name", "", "display name of the instance")
	cmd.Flags().String("conversation", "", "conversation (contact) id")
	cmd.Flags().String("to", "", "recipient jid of the conversation")
	cmd.Flags().String("name", "", "display name of the contact")
	cmd.Flags().Bool("clear", false, "clear the saved context")
	return cmd
}

func (a *app) runUse(cmd *cobra.Command) error {
	store := a.contextStore()
	saved, err := a.loadContext()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	reset, _ := flags.GetBool("clear")
	changed := false
	switch {
	case reset:
		saved.Clear()
		if err := store.Clear(); err != nil {
			return Exitf(ExitCodeFailure, "clear context: %v", err)
		}
	default:
		if flags.Changed("instance") {
			id, _ := flags.GetString("instance")
			name, _ := flags.GetString("instance-name")
			saved.SetInstance(strings.TrimSpace(id), strings.TrimSpace(name))
			changed = true
		}
		if flags.Changed("conversation") {
			id, _ := flags.GetString("conversation")
			to, _ := flags.GetString("to")
			name, _ := flags.GetString("name")
			saved.SetConversation(strings.TrimSpace(id), strings.TrimSpace(to), strings.TrimSpace(name))
			changed = true
		} else if flags.Changed("to") || flags.Changed("name") {
			return Exitf(ExitCodeUsage, "--to and --name require --conversation")
		}
	}
	if changed {
		if err := store.Save(saved); err != nil {
			return Exitf(ExitCodeFailure, "save context: %v", err)
		}
	}

	if a.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), contextOutput(saved))
	}
	a.printf(cmd, "%s\n", saved.String())
	return nil
}

type useOutput struct {
	Instance     string `json:"instance,omitempty"`
	Conversation string `json:"conversation,omitempty"`
	RemoteJID    string `json:"remote_jid,omitempty"`
	ContactName  string `json:"contact_name,omitempty"`
}

func contextOutput(c *config.Context) useOutput {
	return useOutput{
		Instance:     c.InstanceID,
		Conversation: c.ConversationID,
		RemoteJID:    c.RemoteJID,
		ContactName:  c.ContactName,
	}
}
