package factory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"casefile/internal/config"
	"casefile/internal/provider"
	claudeProvider "casefile/internal/provider/claude"
	openaiProvider "casefile/internal/provider/openai"
	openaisdkProvider "casefile/internal/provider/openaisdk"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// RegisterConfiguredProviders constructs every configured provider, bounds
// each attempt by cfg.AttemptTimeout and stores the transports in the
// registry. The default provider receives unregistered model IDs.
func RegisterConfiguredProviders(ctx context.Context, cfg config.Config, registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	enabled := cfg.Enabled()
	names := make([]string, 0, len(enabled))
	for name := range enabled {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pcfg := enabled[name]
		t, err := New(name, pcfg, newHTTPClient())
		if err != nil {
			return fmt.Errorf("initialise %s provider: %w", name, err)
		}
		if err := registry.RegisterProvider(ctx, provider.WithTimeout(t, cfg.AttemptTimeout), pcfg.Aliases); err != nil {
			return fmt.Errorf("register %s provider: %w", name, err)
		}
	}

	if err := registry.SetDefault(cfg.DefaultProvider); err != nil {
		return fmt.Errorf("set default provider: %w", err)
	}
	return nil
}

// New builds the transport implementation registered under name.
func New(name string, cfg config.ProviderConfig, client *http.Client) (provider.Transport, error) {
	switch name {
	case config.ProviderOpenAI:
		return openaiProvider.New(name, cfg, client)
	case config.ProviderOpenAISDK:
		return openaisdkProvider.New(name, cfg, client)
	case config.ProviderClaude:
		return claudeProvider.New(name, cfg, client)
	default:
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, name)
	}
}

// newHTTPClient returns a client without an overall timeout; attempts are
// bounded by provider.WithTimeout instead.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Transport: transport}
}
