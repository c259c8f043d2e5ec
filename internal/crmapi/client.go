// Package crmapi is the HTTP client for the CRM collaborator endpoints the
// sync engine polls. Every record is sanitized here, once, before it reaches
// the stores.
package crmapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/tOgg1/leadsync/internal/logging"
	"github.com/tOgg1/leadsync/internal/models"
)

const (
	defaultTimeout           = 30 * time.Second
	defaultRequestsPerSecond = 5
	defaultBurst             = 10
	userAgent                = "leadsync/1"
)

// CredentialSource supplies the session token for each request. The session
// lifecycle belongs to the external auth layer.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a CredentialSource backed by a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Credentials       CredentialSource
	// HTTPClient overrides the fasthttp client (tests dial in-memory listeners).
	HTTPClient *fasthttp.Client
}

// Client talks to the CRM API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client
	limiter *rate.Limiter
	creds   CredentialSource
	logger  zerolog.Logger
}

// MessagePage is one page of GET /messages/{conversationId}.
type MessagePage struct {
	ConversationID string
	Page           int
	Limit          int
	Messages       []models.Message
	// HasMore is nil when the server did not say.
	HasMore *bool
	Dropped int
}

// ContactQuery selects a contacts page.
type ContactQuery struct {
	Page     int
	Limit    int
	Instance string
	Search   string
}

// ContactPage is one page of GET /contacts.
type ContactPage struct {
	Contacts []models.Contact
	Page     int
	HasMore  bool
	Total    int
	Dropped  int
}

// SendRequest is the body of POST /messages.
type SendRequest struct {
	ConversationID string
	Content        string
	RecipientID    string
	Direction      models.Direction
	// MessageID is the client-generated idempotency key.
	MessageID string
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base url required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = StaticToken("")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &fasthttp.Client{
			Name:                userAgent,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 90 * time.Second,
		}
	}

	return &Client{
		baseURL: base,
		timeout: timeout,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		creds:   creds,
		logger:  logging.Component("crmapi"),
	}, nil
}

// Messages fetches one page of a conversation, newest page first.
func (c *Client) Messages(ctx context.Context, conversationID string, page, limit int) (MessagePage, error) {
	const op = "list messages"
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	var resp messagesResponse
	path := "/messages/" + url.PathEscape(conversationID)
	if err := c.do(ctx, op, fasthttp.MethodGet, path, query, nil, &resp); err != nil {
		return MessagePage{}, err
	}

	messages, dropped := sanitizeMessages(conversationID, resp.Messages)
	c.logDropped(op, dropped)
	return MessagePage{
		ConversationID: conversationID,
		Page:           page,
		Limit:          limit,
		Messages:       messages,
		HasMore:        resp.HasMore,
		Dropped:        len(dropped),
	}, nil
}

// Contacts fetches one page of the contact list.
func (c *Client) Contacts(ctx context.Context, q ContactQuery) (ContactPage, error) {
	const op = "list contacts"
	query := url.Values{}
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("limit", strconv.Itoa(q.Limit))
	if q.Instance != "" {
		query.Set("instance", q.Instance)
	}
	if q.Search != "" {
		query.Set("search", q.Search)
	}

	var resp contactsResponse
	if err := c.do(ctx, op, fasthttp.MethodGet, "/contacts", query, nil, &resp); err != nil {
		return ContactPage{}, err
	}

	contacts, dropped := sanitizeContacts(resp.Contacts)
	c.logDropped(op, dropped)

	page := resp.Pagination.Page
	if page <= 0 {
		page = q.Page
	}
	hasMore := len(resp.Contacts) >= q.Limit && q.Limit > 0
	if resp.Pagination.HasMore != nil {
		hasMore = *resp.Pagination.HasMore
	}
	return ContactPage{
		Contacts: contacts,
		Page:     page,
		HasMore:  hasMore,
		Total:    resp.Pagination.Total,
		Dropped:  len(dropped),
	}, nil
}

// SendMessage posts an outbound message. The returned message is the server's
// copy when the response carries a well-formed one.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	const op = "send message"
	body := sendMessageRequest{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		RecipientID:    req.RecipientID,
		Role:           req.Direction.Role(),
		MessageID:      req.MessageID,
	}

	var resp sendMessageResponse
	if err := c.do(ctx, op, fasthttp.MethodPost, "/messages", nil, body, &resp); err != nil {
		return models.Message{}, err
	}
	if len(resp.Message) == 0 || string(resp.Message) == "null" {
		return models.Message{}, nil
	}
	msg, err := sanitizeMessage(req.ConversationID, resp.Message)
	if err != nil {
		c.logger.Debug().Err(err).Msg("send acknowledged without a usable message body")
		return models.Message{}, nil
	}
	return msg, nil
}

// ToggleAI flips the agent state of a contact and returns the server's value.
func (c *Client) ToggleAI(ctx context.Context, contactID string) (models.AgentState, error) {
	const op = "toggle ai"
	var resp toggleAIResponse
	path := "/contacts/" + url.PathEscape(contactID) + "/toggle-ai"
	if err := c.do(ctx, op, fasthttp.MethodPost, path, nil, struct{}{}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Contact.AgentState) == "" {
		return "", &ServerError{Op: op, Status: fasthttp.StatusOK, Message: "response missing contact.agent_state"}
	}
	return models.ParseAgentState(resp.Contact.AgentState), nil
}

// Leads fetches every lead visible to the session.
func (c *Client) Leads(ctx context.Context) ([]models.Lead, error) {
	const op = "list leads"
	var resp leadsResponse
	if err := c.do(ctx, op, fasthttp.MethodGet, "/leads", nil, nil, &resp); err != nil {
		return nil, err
	}
	leads, dropped := sanitizeLeads(resp.Leads)
	c.logDropped(op, dropped)
	return leads, nil
}

// Proposals fetches the proposals of a lead.
func (c *Client) Proposals(ctx context.Context, leadID string) ([]models.Proposal, error) {
	const op = "list proposals"
	var resp proposalsResponse
	path := "/leads/" + url.PathEscape(leadID) + "/proposals"
	if err := c.do(ctx, op, fasthttp.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	proposals, dropped := sanitizeProposals(leadID, resp.Proposals)
	c.logDropped(op, dropped)
	return proposals, nil
}

type result struct {
	status  int
	body    []byte
	err     error
	elapsed time.Duration
}

// do runs one request. The fasthttp call runs on its own goroutine so that a
// canceled ctx returns immediately; the late response is dropped.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: credentials: %w", op, err)
	}

	uri := c.baseURL + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return &NetworkError{Op: op, Err: context.DeadlineExceeded}
	}

	done := make(chan result, 1)
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(uri)
		req.Header.SetMethod(method)
		req.Header.Set(fasthttp.HeaderAccept, "application/json")
		if token != "" {
			req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
		}
		if payload != nil {
			req.Header.SetContentType("application/json")
			req.SetBody(payload)
		}

		start := time.Now()
		err := c.http.DoTimeout(req, resp, timeout)
		res := result{err: err, elapsed: time.Since(start)}
		if err == nil {
			res.status = resp.StatusCode()
			res.body = append([]byte(nil), resp.Body()...)
		}
		done <- res
	}()

	var res result
	select {
	case <-ctx.Done():
		return &NetworkError{Op: op, Err: ctx.Err()}
	case res = <-done:
	}

	logger := logging.FromContext(ctx, c.logger)
	logger.Debug().
		Str("op", op).
		Str("method", method).
		Str("url", logging.RedactURL(uri)).
		Int("status", res.status).
		Dur("elapsed", res.elapsed).
		Msg("crm request")

	if res.err != nil {
		return &NetworkError{Op: op, Err: res.err}
	}
	if res.status == fasthttp.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	var env envelope
	_ = json.Unmarshal(res.body, &env)
	if res.status < 200 || res.status >= 300 {
		return &ServerError{Op: op, Status: res.status, Message: env.reason()}
	}
	if env.failed() {
		return &ServerError{Op: op, Status: res.status, Message: env.reason()}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return &ServerError{Op: op, Status: res.status, Message: "malformed response: " + err.Error()}
	}
	return nil
}

func (c *Client) logDropped(op string, dropped []*DataShapeError) {
	for _, d := range dropped {
		c.logger.Warn().Err(d).Str("op", op).Msg("dropping malformed record")
	}
}
