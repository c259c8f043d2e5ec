package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const testJID = "5511999990000@s.whatsapp.net"

type harness struct {
	t      *testing.T
	ln     *fasthttputil.InmemoryListener
	client *fasthttp.Client
}

func newHarness(t *testing.T, handler fasthttp.RequestHandler) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("LEADSYNC_GLOBAL_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LEADSYNC_GLOBAL_CONFIG_DIR", filepath.Join(dir, "config"))
	t.Setenv("LEADSYNC_API_BASE_URL", "http://crm.test/api")
	t.Setenv("LEADSYNC_API_TOKEN", "tok_test")
	t.Setenv("LEADSYNC_API_REQUESTS_PER_SECOND", "1000")
	t.Setenv("LEADSYNC_API_BURST", "1000")
	t.Chdir(dir)

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return &harness{
		t:  t,
		ln: ln,
		client: &fasthttp.Client{
			Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
		},
	}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	a := &app{httpClient: h.client}
	cmd := newRootCmd("test", a)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected ExitError, got %v", err)
	return exitErr.Code
}

func crmHandler(t *testing.T) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		switch path := string(ctx.Path()); {
		case path == "/api/contacts":
			ctx.SetBodyString(`{"success":true,"contacts":[
				{"id":42,"remote_jid":"` + testJID + `","name":"Ana Souza","last_message":"oi","last_message_time":"2026-03-01T10:00:00Z","unread_count":2,"agent_state":"human"}
			],"pagination":{"page":1,"hasMore":false,"total":1}}`)
		case path == "/api/messages/42":
			ctx.SetBodyString(`{"success":true,"messages":[
				{"id":"m2","content":"second","timestamp":"2026-03-01T10:00:05Z","from_me":true},
				{"id":"m1","content":"first","timestamp":"2026-03-01T10:00:00Z","from_me":false}
			],"hasMore":false}`)
		case path == "/api/leads":
			ctx.SetBodyString(`{"success":true,"leads":[
				{"id":"L1","name":"Ana Souza","phone":"+55 11 99999-0000","status":"qualified","balance":"1500.5"}
			]}`)
		case path == "/api/leads/L1/proposals":
			ctx.SetBodyString(`{"success":true,"proposals":[
				{"id":"P1","lead_id":"L1","status":"draft","value":100,"created_at":"2026-02-01T00:00:00Z"},
				{"id":"P2","lead_id":"L1","status":"sent","value":250,"created_at":"2026-02-10T00:00:00Z"}
			]}`)
		default:
			t.Logf("unexpected request %s", path)
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd("dev", &app{})
	for _, name := range []string{"tui", "poll", "contacts", "ls", "messages", "send", "toggle-ai", "lead", "use"} {
		found, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		require.NotEqual(t, root, found, name)
	}
	found, _, err := root.Find([]string{"ls"})
	require.NoError(t, err)
	require.Equal(t, "contacts", found.Name())
}

func TestContactsTable(t *testing.T) {
	h := newHarness(t, crmHandler(t))
	out, err := h.run("contacts")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
	require.Contains(t, lines[1], "Ana Souza")
	require.Contains(t, lines[1], "5511999990000")
	require.Contains(t, lines[1], "human")
}

func TestContactsJSON(t *testing.T) {
	h := newHarness(t, crmHandler(t))
	out, err := h.run("contacts", "--json")
	require.NoError(t, err)

	var got contactsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, 1, got.Total)
	require.Len(t, got.Contacts, 1)
	require.Equal(t, "42", got.Contacts[0].ID)
	require.Equal(t, 2, got.Contacts[0].UnreadCount)
}

func TestMissingTokenIsUsageError(t *testing.T) {
	h := newHarness(t, crmHandler(t))
	t.Setenv("LEADSYNC_API_TOKEN", "")
	_, err := h.run("contacts")
	require.Equal(t, ExitCodeUsage, exitCode(t, err))
}

func TestUseThenMessagesFromContext(t *testing.T) {
	h := newHarness(t, crmHandler(t))
	out, err := h.run("use", "--conversation", "42", "--to", testJID, "--name", "Ana")
	require.NoError(t, err)
	require.Contains(t, out, "conversation:Ana")

	out, err = h.run("messages", "--json")
	require.NoError(t, err)
	var got messagesOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "42", got.ConversationID)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "m1", got.Messages[0].ID)
	require.Equal(t, "m2", got.Messages[1].ID)

	_, err = h.run("use", "--clear")
	require.NoError(t, err)
	_, err = h.run("messages")
	require.Equal(t, ExitCodeUsage, exitCode(t, err))
}

func TestUseRejectsRecipientWithoutConversation(t *testing.T) {
	h := newHarness(t, crmHandler(t))
	_, err := h.run("use", "--to", testJID)
	require.Equal(t, ExitCodeUsage, exitCode(t, err))
}

func TestSendRetriesWithSameIdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	h := newHarness(t, func(ctx *fasthttp.RequestCtx) {
		var body map[string]string
		_ = json.Unmarshal(ctx.PostBody(), &body)
		mu.Lock()
		keys = append(keys, body["messageId"])
		attempt := len(keys)
		mu.Unlock()
		if attempt == 1 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetBodyString(`{"success":true}`)
	})

	out, err := h.run("send", "42", "hello there", "--to", testJID, "--json")
	require.NoError(t, err)
	var got sendOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, 2, got.Attempts)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 2)
	require.NotEmpty(t, keys[0])
	require.Equal(t, keys[0], keys[1])
}

func TestSendRequiresRecipient(t *testing.T) {
	h := newHarness(t, crmHandler(t))
	_, err := h.run("send", "42", "hello")
	require.Equal(t, ExitCodeUsage, exitCode(t, err))
}

func TestLeadCommandPicksLatestProposal(t *testing.T) {
	h := newHarness(t, crmHandler(t))
	out, err := h.run("lead", "5511999990000")
	require.NoError(t, err)
	require.Contains(t, out, "Ana Souza")
	require.Contains(t, out, "qualified")
	require.Contains(t, out, "1,500.5")
	require.Contains(t, out, "sent")
	require.NotContains(t, out, "draft")
}

func TestPollOnceStreamsMessagesAndSummary(t *testing.T) {
	h := newHarness(t, crmHandler(t))
	out, err := h.run("poll", "--once", "--conversation", "42", "--to", testJID, "--json")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 3)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "m1", first["id"])

	var summary pollSummary
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &summary))
	require.Equal(t, 1, summary.Contacts)
	require.Equal(t, 2, summary.Messages)
	require.Empty(t, summary.Errors)
	require.NotNil(t, summary.Lead)
	require.True(t, summary.Lead.HasLead())
	require.Equal(t, "P2", *summary.Lead.ProposalID)
}

func TestPollOnceAuthFailureExits(t *testing.T) {
	h := newHarness(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	})
	_, err := h.run("poll", "--once")
	require.Equal(t, ExitCodeAuth, exitCode(t, err))
}
