package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// SSEConfig describes a connection to an MCP server over the HTTP+SSE
// transport. The client opens an event stream at URL, waits for the server to
// announce its message endpoint and then posts JSON-RPC requests there.
type SSEConfig struct {
	URL     string
	Headers map[string]string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	Options Options
}

// NewSSEClient connects the event stream and performs the handshake.
func NewSSEClient(ctx context.Context, cfg SSEConfig) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("mcp: sse url is required")
	}

	transport, err := newSSETransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(ctx, transport, cfg.Options)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type sseTransport struct {
	httpClient *http.Client
	streamURL  string
	headers    map[string]string

	endpoint string
	messages chan []byte
	errs     chan error

	cancel context.CancelFunc
	closer io.Closer

	closeOnce sync.Once
}

func newSSETransport(ctx context.Context, cfg SSEConfig) (*sseTransport, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t := &sseTransport{
		httpClient: httpClient,
		streamURL:  cfg.URL,
		headers:    cfg.Headers,
		messages:   make(chan []byte, 16),
		errs:       make(chan error, 1),
		cancel:     cancel,
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("mcp: open sse stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("mcp: sse stream returned status %d", resp.StatusCode)
	}
	t.closer = resp.Body

	endpointCh := make(chan string, 1)
	go t.readLoop(resp.Body, endpointCh)

	select {
	case endpoint := <-endpointCh:
		resolved, err := t.resolveEndpoint(endpoint)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.endpoint = resolved
	case err := <-t.errs:
		t.Close()
		return nil, fmt.Errorf("mcp: waiting for endpoint: %w", err)
	case <-time.After(30 * time.Second):
		t.Close()
		return nil, errors.New("mcp: timed out waiting for sse endpoint")
	case <-ctx.Done():
		t.Close()
		return nil, ctx.Err()
	}

	return t, nil
}

// resolveEndpoint interprets the announced endpoint relative to the stream
// URL, so servers may send either a path or an absolute URL.
func (t *sseTransport) resolveEndpoint(endpoint string) (string, error) {
	base, err := url.Parse(t.streamURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("mcp: invalid endpoint %q: %w", endpoint, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (t *sseTransport) readLoop(body io.ReadCloser, endpointCh chan<- string) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	event := ""
	var data bytes.Buffer
	dispatch := func() {
		if data.Len() == 0 {
			event = ""
			return
		}
		payload := strings.TrimSuffix(data.String(), "\n")
		switch event {
		case "endpoint":
			select {
			case endpointCh <- payload:
			default:
			}
		case "message", "":
			t.messages <- []byte(payload)
		}
		event = ""
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			data.WriteString("\n")
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case t.errs <- err:
	default:
	}
	close(t.messages)
}

func (t *sseTransport) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("mcp: message post returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *sseTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-t.messages:
		if !ok {
			select {
			case err := <-t.errs:
				return nil, err
			default:
				return nil, io.EOF
			}
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *sseTransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		if t.closer != nil {
			t.closer.Close()
		}
	})
	return nil
}
