package cli

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tOgg1/leadsync/internal/chatsync"
	"github.com/tOgg1/leadsync/internal/config"
	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/scroll"
	"github.com/tOgg1/leadsync/internal/state"
)

func (a *app) newClient() (*crmapi.Client, error) {
	token := strings.TrimSpace(a.cfg.API.Token)
	if token == "" {
		return nil, Exitf(ExitCodeUsage, "api token not configured (set %s_API_TOKEN or api.token)", config.EnvPrefix)
	}
	client, err := crmapi.NewClient(crmapi.Config{
		BaseURL:           a.cfg.API.BaseURL,
		Timeout:           a.cfg.API.Timeout,
		RequestsPerSecond: a.cfg.API.RequestsPerSecond,
		Burst:             a.cfg.API.Burst,
		Credentials:       crmapi.StaticToken(token),
		HTTPClient:        a.httpClient,
	})
	if err != nil {
		return nil, Exitf(ExitCodeUsage, "create api client: %v", err)
	}
	return client, nil
}

// instance resolves the contact filter: the saved context wins over config.
func (a *app) instance() string {
	if ctx, err := a.contextStore().Load(); err == nil && ctx.HasInstance() {
		return ctx.InstanceID
	}
	return a.cfg.API.Instance
}

func (a *app) newMessageStore(client *crmapi.Client) *chatsync.MessageStore {
	return chatsync.NewMessageStore(client, chatsync.MessageStoreConfig{
		PageSize:          a.cfg.API.MessagePageSize,
		TempDedupWindow:   a.cfg.Dedup.TempWindow,
		ServerDedupWindow: a.cfg.Dedup.ServerWindow,
	})
}

func (a *app) newContactStore(client *crmapi.Client) *chatsync.ContactStore {
	return chatsync.NewContactStore(client, chatsync.ContactStoreConfig{
		PageSize: a.cfg.API.ContactPageSize,
		Instance: a.instance(),
	})
}

func (a *app) newSidePanel(client *crmapi.Client) *chatsync.SidePanelFetcher {
	return chatsync.NewSidePanelFetcher(client, chatsync.SidePanelConfig{
		CacheSize: a.cfg.SidePanel.CacheSize,
		CacheTTL:  a.cfg.SidePanel.CacheTTL,
	})
}

// newCoordinator builds the stores and the scheduler over one client. reg
// may be nil.
func (a *app) newCoordinator(client *crmapi.Client, reg prometheus.Registerer, tweak func(*chatsync.CoordinatorConfig)) *chatsync.Coordinator {
	polling := a.cfg.Polling
	cfg := chatsync.CoordinatorConfig{
		ActiveWindow: polling.ActiveWindow,
		Fast: chatsync.Intervals{
			Messages: polling.Fast.Messages,
			Contacts: polling.Fast.Contacts,
			LeadData: polling.Fast.LeadData,
		},
		Slow: chatsync.Intervals{
			Messages: polling.Slow.Messages,
			Contacts: polling.Slow.Contacts,
			LeadData: polling.Slow.LeadData,
		},
		RequestTimeout: a.cfg.API.Timeout,
	}
	if reg != nil {
		cfg.Metrics = chatsync.NewMetrics(reg)
	}
	if tweak != nil {
		tweak(&cfg)
	}
	return chatsync.NewCoordinator(cfg, a.newMessageStore(client), a.newContactStore(client), a.newSidePanel(client))
}

func (a *app) scrollConfig() scroll.Config {
	return scroll.Config{
		BottomThreshold: a.cfg.Scroll.BottomThreshold,
		TopTrigger:      a.cfg.Scroll.TopTrigger,
		Debounce:        a.cfg.Scroll.Debounce,
		SettleDelay:     a.cfg.Scroll.SettleDelay,
	}
}

func (a *app) openState(ctx context.Context) (*state.Store, error) {
	store, err := state.Open(ctx, a.cfg.StatePath())
	if err != nil {
		return nil, Exitf(ExitCodeFailure, "open state: %v", err)
	}
	return store, nil
}
