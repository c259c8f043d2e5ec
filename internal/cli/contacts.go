package cli

import (
	"github.com/spf13/cobra"

	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/models"
)

func newContactsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contacts",
		Aliases: []string{"ls"},
		Short:   "List inbox contacts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runContacts(cmd)
		},
	}
	cmd.Flags().String("search", "", "filter by name or phone")
	cmd.Flags().String("instance", "", "WhatsApp instance (default: context or api.instance)")
	cmd.Flags().Int("page", 1, "page to fetch")
	cmd.Flags().Int("limit", 0, "page size (default: api.contact_page_size)")
	return cmd
}

type contactsOutput struct {
	Page     int              `json:"page"`
	HasMore  bool             `json:"has_more"`
	Total    int              `json:"total"`
	Contacts []models.Contact `json:"contacts"`
}

func (a *app) runContacts(cmd *cobra.Command) error {
	client, err := a.newClient()
	if err != nil {
		return err
	}
	search, _ := cmd.Flags().GetString("search")
	instance, _ := cmd.Flags().GetString("instance")
	page, _ := cmd.Flags().GetInt("page")
	limit, _ := cmd.Flags().GetInt("limit")
	if !cmd.Flags().Changed("instance") {
		instance = a.instance()
	}
	if page < 1 {
		return Exitf(ExitCodeUsage, "--page must be at least 1")
	}
	if limit <= 0 {
		limit = a.cfg.API.ContactPageSize
	}

	result, err := client.Contacts(cmd.Context(), crmapi.ContactQuery{
		Page:     page,
		Limit:    limit,
		Instance: instance,
		Search:   search,
	})
	if err != nil {
		return apiExit("list contacts", err)
	}

	out := cmd.OutOrStdout()
	if a.jsonOutput {
		contacts := result.Contacts
		if contacts == nil {
			contacts = []models.Contact{}
		}
		return writeJSON(out, contactsOutput{Page: result.Page, HasMore: result.HasMore, Total: result.Total, Contacts: contacts})
	}
	if len(result.Contacts) == 0 {
		a.printf(cmd, "No contacts found\n")
		return nil
	}
	t := newTable("ID", "NAME", "PHONE", "AGENT", "UNREAD", "LAST MESSAGE", "WHEN")
	for _, c := range result.Contacts {
		t.add(c.ID, c.DisplayName, c.Phone, string(c.AgentState), formatUnread(c.UnreadCount), c.LastMessagePreview, formatAgo(c.LastMessageTime))
	}
	if err := t.render(out); err != nil {
		return err
	}
	if result.HasMore {
		a.printf(cmd, "\nMore contacts available: --page %d\n", result.Page+1)
	}
	return nil
}
