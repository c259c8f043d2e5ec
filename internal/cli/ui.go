package cli

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/leadsync/internal/inboxtui"
	"github.com/tOgg1/leadsync/internal/logging"
)

func newTUICmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal inbox",
		Long:  "Open the terminal inbox: contacts, the selected conversation and the lead side panel.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd)
		},
	}
	cmd.Flags().String("theme", "", "color theme (default, high-contrast)")
	return cmd
}

func (a *app) runTUI(cmd *cobra.Command) error {
	if !hasTTY() {
		return Exitf(ExitCodeUsage, "the inbox requires an interactive terminal; use the poll, contacts or messages subcommands instead")
	}
	client, err := a.newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := a.openState(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	coord := a.newCoordinator(client, nil, nil)
	defer coord.Close()

	theme := ""
	if flag := cmd.Flags().Lookup("theme"); flag != nil {
		theme = flag.Value.String()
	}
	if a.noColor && theme == "" {
		theme = "high-contrast"
	}

	logger := logging.Component("cli")
	logger.Info().Str("base_url", logging.RedactURL(a.cfg.API.BaseURL)).Msg("opening inbox")
	return inboxtui.Run(ctx, inboxtui.Config{
		Coordinator: coord,
		State:       store,
		Scroll:      a.scrollConfig(),
		Theme:       theme,
	})
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
