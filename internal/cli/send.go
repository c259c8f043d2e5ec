package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/logging"
)

func newSendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [conversation-id] <message>",
		Short: "Send a message as the operator",
		Long: `Send an outbound message to a conversation.

With a single argument the message goes to the conversation saved by
"leadsync use". Network failures are retried with the same idempotency
key, so the server never records the message twice.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSend(cmd, args)
		},
	}
	cmd.Flags().String("to", "", "recipient jid (default: the saved conversation's jid)")
	cmd.Flags().Int("retries", 2, "retries after a network failure")
	return cmd
}

type sendOutput struct {
	ConversationID string `json:"conversation_id"`
	RecipientID    string `json:"recipient_id"`
	Content        string `json:"content"`
	Attempts       int    `json:"attempts"`
}

func (a *app) runSend(cmd *cobra.Command, args []string) error {
	var convArgs []string
	content := args[len(args)-1]
	if len(args) == 2 {
		convArgs = args[:1]
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Exitf(ExitCodeUsage, "message is empty")
	}
	conversationID, recipient, err := a.resolveConversation(convArgs)
	if err != nil {
		return err
	}
	if to, _ := cmd.Flags().GetString("to"); strings.TrimSpace(to) != "" {
		recipient = strings.TrimSpace(to)
	}
	if recipient == "" {
		return Exitf(ExitCodeUsage, "recipient unknown for %s: pass --to <jid>", conversationID)
	}
	retries, _ := cmd.Flags().GetInt("retries")

	client, err := a.newClient()
	if err != nil {
		return err
	}
	store := a.newMessageStore(client)
	store.Select(conversationID, recipient)

	ctx := cmd.Context()
	logger := logging.WithConversation(logging.Component("cli"), conversationID)
	attempts := 1
	temp, err := store.Send(ctx, content)
	for err != nil && attempts <= retries && retryable(err) {
		logger.Warn().Err(err).Int("attempt", attempts).Msg("send failed; retrying")
		attempts++
		err = store.Retry(ctx, temp.ID)
	}
	if err != nil {
		return apiExit("send message", err)
	}

	if a.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), sendOutput{
			ConversationID: conversationID,
			RecipientID:    recipient,
			Content:        content,
			Attempts:       attempts,
		})
	}
	a.printf(cmd, "Sent to %s\n", logging.RedactPhone(recipient))
	return nil
}

func retryable(err error) bool {
	var serverErr *crmapi.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Status >= 500
	}
	return crmapi.IsNetwork(err) && !crmapi.IsCanceled(err)
}
