package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/leadsync/internal/chatsync"
	"github.com/tOgg1/leadsync/internal/models"
)

func newMessagesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages [conversation-id]",
		Short: "Show a conversation",
		Long: `Show the newest messages of a conversation, oldest first.

Without an argument the conversation saved by "leadsync use" is shown.
--pages loads that many pages of history through the message store, so
duplicates across page boundaries are merged the same way the inbox does.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMessages(cmd, args)
		},
	}
	cmd.Flags().Int("pages", 1, "number of pages to load")
	return cmd
}

type messagesOutput struct {
	ConversationID string           `json:"conversation_id"`
	HasMore        bool             `json:"has_more"`
	Pages          int              `json:"pages"`
	Messages       []models.Message `json:"messages"`
}

func (a *app) runMessages(cmd *cobra.Command, args []string) error {
	conversationID, _, err := a.resolveConversation(args)
	if err != nil {
		return err
	}
	pages, _ := cmd.Flags().GetInt("pages")
	if pages < 1 {
		return Exitf(ExitCodeUsage, "--pages must be at least 1")
	}
	client, err := a.newClient()
	if err != nil {
		return err
	}

	store := a.newMessageStore(client)
	store.Select(conversationID, "")
	ctx := cmd.Context()
	if err := store.FetchMessages(ctx, conversationID, 1, true); err != nil {
		return apiExit("list messages", err)
	}
	for loaded := 1; loaded < pages; loaded++ {
		err := store.LoadOlder(ctx)
		if errors.Is(err, chatsync.ErrNoMorePages) {
			break
		}
		if err != nil {
			return apiExit("list messages", err)
		}
	}
	snap := store.Snapshot()

	out := cmd.OutOrStdout()
	if a.jsonOutput {
		messages := snap.Messages
		if messages == nil {
			messages = []models.Message{}
		}
		return writeJSON(out, messagesOutput{
			ConversationID: conversationID,
			HasMore:        snap.HasMore,
			Pages:          snap.Page,
			Messages:       messages,
		})
	}
	if len(snap.Messages) == 0 {
		a.printf(cmd, "No messages in %s\n", conversationID)
		return nil
	}
	t := newTable("", "WHEN", "STATUS", "MESSAGE")
	for _, m := range snap.Messages {
		t.add(directionArrow(m.Direction), m.EffectiveTime().Local().Format("2006-01-02 15:04"), string(m.Status), m.Content)
	}
	if err := t.render(out); err != nil {
		return err
	}
	if snap.HasMore {
		a.printf(cmd, "\nOlder history available: --pages %d\n", snap.Page+1)
	}
	return nil
}

// resolveConversation returns the conversation id and recipient jid from the
// first argument or the saved context.
func (a *app) resolveConversation(args []string) (string, string, error) {
	saved, err := a.loadContext()
	if err != nil {
		return "", "", err
	}
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		id := strings.TrimSpace(args[0])
		if id == saved.ConversationID {
			return id, saved.RemoteJID, nil
		}
		return id, "", nil
	}
	if !saved.HasConversation() {
		return "", "", Exitf(ExitCodeUsage, "no conversation given and none selected (see leadsync use --help)")
	}
	return saved.ConversationID, saved.RemoteJID, nil
}
