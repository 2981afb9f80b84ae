package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/google/uuid"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/auth"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/probe"
)

const (
	defaultConnectTimeout = 10 * time.Second

	wellKnownCardPath = ".well-known/agent-card.json"
	cardFileSuffix    = "agent-card.json"
)

// SendParams is one outgoing user message.
type SendParams struct {
	Text             string
	ContextID        string
	ReferenceTaskIDs []string
}

// Agent is a connection to one remote A2A agent.
type Agent interface {
	// Init resolves the agent card and prepares the transport. It returns
	// true once the agent is ready and never returns an error: failures are
	// recorded in Status.
	Init(ctx context.Context) bool
	Reset() bool
	Status() probe.Status
	Server() config.ServerConfig
	AgentCard() *a2a.AgentCard
	SendMessageStream(ctx context.Context, params SendParams) iter.Seq2[StreamEvent, error]
	Close() error
}

// Factory builds an Agent from its configuration.
type Factory func(server config.ServerConfig) Agent

// ClientOptions configures the agents built by NewFactory.
type ClientOptions struct {
	ConnectTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// NewFactory returns a Factory producing a2a-go backed clients.
func NewFactory(opts ClientOptions) Factory {
	return func(server config.ServerConfig) Agent {
		return NewClient(server, opts)
	}
}

// Client talks to an A2A agent through the a2a-go JSON-RPC transport.
type Client struct {
	server         config.ServerConfig
	connectTimeout time.Duration
	httpClient     *http.Client
	logger         *slog.Logger

	probe *probe.Probe

	mu     sync.Mutex
	card   *a2a.AgentCard
	client *a2aclient.Client
	closed bool
}

// NewClient creates a client. No I/O happens until Init.
func NewClient(server config.ServerConfig, opts ClientOptions) *Client {
	c := &Client{
		server:         server,
		connectTimeout: opts.ConnectTimeout,
		logger:         opts.Logger,
		probe:          probe.New(),
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = defaultConnectTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("a2a_agent", server.Name)

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	c.httpClient = &http.Client{
		Transport:     &headerTransport{base: rt, headers: server.Headers},
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       base.Timeout,
	}
	return c
}

// headerTransport adds the configured server headers and the caller's
// forwarded credentials to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	for k, v := range auth.ForwardHeaders(req.Context()) {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// Server returns the configuration the client was built from.
func (c *Client) Server() config.ServerConfig { return c.server }

// Status returns the last known connection status.
func (c *Client) Status() probe.Status { return c.probe.Status() }

// Reset returns a failed client to uninitialized so Init can run again.
func (c *Client) Reset() bool { return c.probe.Reset() }

// AgentCard returns the resolved agent card, or nil before a successful Init.
func (c *Client) AgentCard() *a2a.AgentCard {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.card
}

// CardURL returns the URL the agent card is fetched from.
func (c *Client) CardURL() (string, error) {
	return ResolveCardURL(c.server.Endpoint)
}

// ResolveCardURL maps a configured agent URL to its card URL. A URL already
// naming an agent-card.json file is used as is; otherwise the well-known
// card path is appended.
func ResolveCardURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfigurationInvalid, "resolve card url", err)
	}
	if strings.HasSuffix(u.Path, cardFileSuffix) {
		return u.String(), nil
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.Path += wellKnownCardPath
	u.RawPath = ""
	return u.String(), nil
}

// Init resolves the card and builds the transport.
func (c *Client) Init(ctx context.Context) bool {
	state, ok := c.probe.Begin()
	if !ok {
		return state == probe.StateReady
	}

	if err := c.server.Validate(); err != nil {
		c.probe.Fail(err.Error())
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	card, err := c.fetchCard(ctx)
	if err != nil {
		reason := probe.Describe(err, c.connectTimeout)
		c.logger.Warn("A2A agent unavailable", "url", c.server.Endpoint, "error", reason)
		c.probe.Fail(reason)
		return false
	}

	client, err := a2aclient.NewFromCard(ctx, card, a2aclient.WithJSONRPCTransport(c.httpClient))
	if err != nil {
		c.logger.Warn("A2A transport setup failed", "url", card.URL, "error", err)
		c.probe.Fail(fmt.Sprintf("create client: %v", err))
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = client.Destroy()
		c.probe.Fail("client closed during initialization")
		return false
	}
	c.card = card
	c.client = client
	c.mu.Unlock()

	c.probe.Succeed()
	c.logger.Debug("A2A agent ready", "card_name", card.Name, "streaming", card.Capabilities.Streaming)
	return true
}

// FetchCard downloads the agent card without touching the connection state.
func (c *Client) FetchCard(ctx context.Context) (*a2a.AgentCard, error) {
	if err := c.server.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	return c.fetchCard(ctx)
}

// fetchCard downloads and validates the agent card.
func (c *Client) fetchCard(ctx context.Context) (*a2a.AgentCard, error) {
	cardURL, err := c.CardURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfigurationInvalid, "create card request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnectionFailed, "fetch agent card", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnectionFailed, "read agent card", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, apperr.New(apperr.KindUnauthorized, "fetch agent card",
			fmt.Sprintf("agent card request rejected with status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindConnectionFailed, "fetch agent card",
			fmt.Sprintf("agent card request failed with status %d", resp.StatusCode))
	}

	var card a2a.AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, apperr.Wrap(apperr.KindProtocolInvalid, "decode agent card", err)
	}
	if err := validateCard(&card); err != nil {
		return nil, err
	}
	if card.PreferredTransport == "" {
		card.PreferredTransport = a2a.TransportProtocolJSONRPC
	}
	return &card, nil
}

func validateCard(card *a2a.AgentCard) error {
	if strings.TrimSpace(card.Name) == "" {
		return apperr.New(apperr.KindProtocolInvalid, "validate agent card", "agent card has no name")
	}
	if err := probe.ValidateEndpoint(card.URL); err != nil {
		return apperr.New(apperr.KindProtocolInvalid, "validate agent card",
			fmt.Sprintf("agent card url %q is invalid", card.URL))
	}
	return nil
}

func (c *Client) readyClient() (*a2aclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, apperr.New(apperr.KindConnectionFailed, "send message", "client is closed")
	}
	if c.client == nil || !c.probe.Status().Ready() {
		return nil, apperr.New(apperr.KindConnectionFailed, "send message",
			fmt.Sprintf("agent %s is not ready", c.server.Name))
	}
	return c.client, nil
}

// SendMessageStream sends a user message and yields the converted events of
// the reply stream. The sequence can be ranged over once; later iterations
// yield a single error.
func (c *Client) SendMessageStream(ctx context.Context, params SendParams) iter.Seq2[StreamEvent, error] {
	var once sync.Once
	return func(yield func(StreamEvent, error) bool) {
		first := false
		once.Do(func() { first = true })
		if !first {
			yield(StreamEvent{}, apperr.New(apperr.KindInternal, "send message", "stream already consumed"))
			return
		}

		client, err := c.readyClient()
		if err != nil {
			yield(StreamEvent{}, err)
			return
		}

		msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: params.Text})
		msg.ID = uuid.NewString()
		msg.ContextID = params.ContextID
		for _, id := range params.ReferenceTaskIDs {
			msg.ReferenceTasks = append(msg.ReferenceTasks, a2a.TaskID(id))
		}

		c.logger.Debug("A2A message sent", "message_id", msg.ID, "context_id", msg.ContextID)

		for ev, err := range client.SendStreamingMessage(ctx, &a2a.MessageSendParams{Message: msg}) {
			if err != nil {
				yield(StreamEvent{}, apperr.Wrap(apperr.KindConnectionFailed, "stream message", err))
				return
			}
			converted, err := ConvertEvent(ev)
			if err != nil {
				c.logger.Warn("A2A event rejected", "error", err)
				yield(StreamEvent{}, err)
				return
			}
			if !yield(converted, nil) {
				return
			}
		}
	}
}

// Close releases the transport. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Destroy()
}
