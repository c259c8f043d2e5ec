package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/tOgg1/leadsync/internal/chatsync"
	"github.com/tOgg1/leadsync/internal/logging"
	"github.com/tOgg1/leadsync/internal/models"
)

func newPollCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run the poll coordinator without a terminal UI",
		Long: `Run the adaptive poll coordinator headless and stream new messages.

With --conversation the messages and lead data of that conversation are
polled too. --once runs a single cycle and exits. --metrics-addr exposes
Prometheus metrics for the scheduler.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPoll(cmd)
		},
	}
	cmd.Flags().String("conversation", "", "conversation id to follow (default: saved context)")
	cmd.Flags().String("to", "", "recipient jid of the conversation")
	cmd.Flags().Bool("once", false, "run one cycle and exit")
	cmd.Flags().Bool("panel", true, "poll lead data of the followed conversation")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	return cmd
}

type pollSummary struct {
	CycleID  uint64                  `json:"cycle_id"`
	Tier     string                  `json:"tier"`
	Contacts int                     `json:"contacts"`
	Messages int                     `json:"messages"`
	Lead     *models.SidePanelRecord `json:"lead,omitempty"`
	Errors   map[string]string       `json:"errors,omitempty"`
}

func (a *app) runPoll(cmd *cobra.Command) error {
	flags := cmd.Flags()
	once, _ := flags.GetBool("once")
	panelOpen, _ := flags.GetBool("panel")
	metricsAddr, _ := flags.GetString("metrics-addr")

	var convArgs []string
	if id, _ := flags.GetString("conversation"); strings.TrimSpace(id) != "" {
		convArgs = []string{id}
	}
	follow := len(convArgs) > 0
	if !follow {
		saved, err := a.loadContext()
		if err != nil {
			return err
		}
		follow = saved.HasConversation()
	}
	conversationID, recipient := "", ""
	if follow {
		var err error
		conversationID, recipient, err = a.resolveConversation(convArgs)
		if err != nil {
			return err
		}
		if to, _ := flags.GetString("to"); strings.TrimSpace(to) != "" {
			recipient = strings.TrimSpace(to)
		}
	}

	client, err := a.newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	logger := logging.Component("cli.poll")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var (
		authMu  sync.Mutex
		authErr error
	)
	var lastErrs map[models.ResourceClass]error
	var lastCycle models.PollCycle
	coord := a.newCoordinator(client, reg, func(cfg *chatsync.CoordinatorConfig) {
		cfg.OnAuthError = func(err error) {
			authMu.Lock()
			authErr = err
			authMu.Unlock()
			cancel()
		}
		cfg.OnCycle = func(cycle models.PollCycle, results map[models.ResourceClass]error) {
			lastCycle, lastErrs = cycle, results
			cycleLog := logging.WithCycle(logger, cycle.CycleID)
			event := cycleLog.Info().Bool("active", cycle.Active)
			for _, class := range cycle.Resources {
				if err := results[class]; err != nil {
					event = event.Str(string(class), err.Error())
				} else {
					event = event.Str(string(class), "ok")
				}
			}
			event.Msg("poll cycle")
		}
	})
	defer coord.Close()

	out := cmd.OutOrStdout()
	printer := newMessagePrinter(out, a.jsonOutput)
	unsubscribe := coord.Messages().Subscribe(printer.onSnapshot)
	defer unsubscribe()

	if metricsAddr != "" {
		server := newMetricsServer(reg)
		go func() {
			if err := server.ListenAndServe(metricsAddr); err != nil {
				logger.Error().Err(err).Str("addr", metricsAddr).Msg("metrics server stopped")
			}
		}()
		defer func() { _ = server.Shutdown() }()
		logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
	}

	coord.SetSidePanelOpen(panelOpen && follow)
	if follow {
		contact := models.Contact{ID: conversationID, RemoteJID: recipient, Phone: models.PhoneFromJID(recipient)}
		if err := coord.SelectConversation(ctx, contact); err != nil && !errors.Is(err, chatsync.ErrNoPhone) {
			logger.Warn().Err(err).Str("conversation", conversationID).Msg("initial fetch failed")
		}
	}

	if once {
		coord.ForceTick(ctx)
		if err := pollAuthErr(&authMu, &authErr); err != nil {
			return apiExit("poll", err)
		}
		return a.writePollSummary(out, coord, lastCycle, lastErrs)
	}

	if err := coord.Start(ctx); err != nil {
		return Exitf(ExitCodeFailure, "start coordinator: %v", err)
	}
	<-ctx.Done()
	if err := pollAuthErr(&authMu, &authErr); err != nil {
		return apiExit("poll", err)
	}
	return nil
}

func pollAuthErr(mu *sync.Mutex, err *error) error {
	mu.Lock()
	defer mu.Unlock()
	return *err
}

func (a *app) writePollSummary(out io.Writer, coord *chatsync.Coordinator, cycle models.PollCycle, results map[models.ResourceClass]error) error {
	status := coord.Status()
	summary := pollSummary{
		CycleID:  cycle.CycleID,
		Tier:     string(status.Tier),
		Contacts: len(coord.Contacts().Contacts()),
		Messages: len(coord.Messages().Snapshot().Messages),
	}
	if record := coord.Panel().Current(); record.Phone != "" {
		summary.Lead = &record
	}
	for class, err := range results {
		if err == nil {
			continue
		}
		if summary.Errors == nil {
			summary.Errors = make(map[string]string)
		}
		summary.Errors[string(class)] = err.Error()
	}
	if a.jsonOutput {
		return writeJSONLine(out, summary)
	}
	t := newTable("CYCLE", "TIER", "CONTACTS", "MESSAGES", "LEAD")
	lead := "-"
	if summary.Lead != nil && summary.Lead.HasLead() {
		lead = formatOptional(summary.Lead.LeadName)
	}
	t.add(fmt.Sprint(summary.CycleID), summary.Tier, fmt.Sprint(summary.Contacts), fmt.Sprint(summary.Messages), lead)
	if err := t.render(out); err != nil {
		return err
	}
	classes := make([]string, 0, len(summary.Errors))
	for class := range summary.Errors {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		fmt.Fprintf(out, "%s: %s\n", class, summary.Errors[class])
	}
	return nil
}

// messagePrinter streams every server message once, in arrival order.
type messagePrinter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
	seen map[string]struct{}
	conv string
}

func newMessagePrinter(out io.Writer, jsonOutput bool) *messagePrinter {
	return &messagePrinter{out: out, json: jsonOutput, seen: make(map[string]struct{})}
}

func (p *messagePrinter) onSnapshot(snap chatsync.MessageSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.ConversationID != p.conv {
		p.conv = snap.ConversationID
		p.seen = make(map[string]struct{})
	}
	for _, m := range snap.Messages {
		if m.IsTemporary {
			continue
		}
		if _, ok := p.seen[m.ID]; ok {
			continue
		}
		p.seen[m.ID] = struct{}{}
		if p.json {
			_ = writeJSONLine(p.out, m)
			continue
		}
		fmt.Fprintf(p.out, "%s %s %s\n", m.EffectiveTime().Local().Format(time.DateTime), directionArrow(m.Direction), m.Content)
	}
}

func newMetricsServer(reg *prometheus.Registry) *fasthttp.Server {
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &fasthttp.Server{
		Name: "leadsync",
		Handler: func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/metrics":
				metrics(ctx)
			case "/healthz":
				ctx.SetStatusCode(fasthttp.StatusOK)
				ctx.SetBodyString("ok")
			default:
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			}
		},
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
