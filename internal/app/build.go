// Package app assembles the runtime from configuration.
package app

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/ent0n29/deepclaw/internal/agent"
	"github.com/ent0n29/deepclaw/internal/bridge"
	"github.com/ent0n29/deepclaw/internal/config"
	"github.com/ent0n29/deepclaw/internal/history"
	"github.com/ent0n29/deepclaw/internal/httpapi"
	"github.com/ent0n29/deepclaw/internal/llmproxy"
	"github.com/ent0n29/deepclaw/internal/observability"
	"github.com/ent0n29/deepclaw/internal/openclaw"
	"github.com/ent0n29/deepclaw/internal/prompt"
	"github.com/ent0n29/deepclaw/internal/registry"
	"github.com/ent0n29/deepclaw/internal/telephony"
	"github.com/ent0n29/deepclaw/internal/voice"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Metrics *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	gateway := openclaw.NewClient(cfg.GatewayURL, cfg.GatewayToken, cfg.GatewayTimeout)
	assembler := prompt.NewAssembler(cfg.PersonaEnabled, cfg.Workspace, cfg.PersonaMaxChars, cfg.ControlAPIToken, bindPort(cfg.BindAddr))
	preference := voice.NewPreference(filepath.Join(cfg.StateDir, "voice"), cfg.DeepgramTTSModel)
	contexts := bridge.NewContexts()
	reg := registry.New()

	var caller httpapi.Telephony
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		caller = telephony.NewCaller(telephony.CallerConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioPhoneNumber,
			Owner:      cfg.OwnerPhone,
			PublicURL:  cfg.PublicURL,
		})
	}

	proxy := llmproxy.New(gateway, reg, assembler, contexts, cfg.VoiceModel, metrics)

	b := bridge.New(bridge.Options{
		Dialer:       agent.NewDialer(cfg.DeepgramAgentURL, cfg.DeepgramAPIKey),
		Registry:     reg,
		Metrics:      metrics,
		History:      store,
		Preference:   preference,
		Assembler:    assembler,
		Gateway:      gateway,
		Contexts:     contexts,
		PublicURL:    cfg.PublicURL,
		OwnerPhone:   cfg.OwnerPhone,
		GatewayModel: cfg.VoiceModel,
	})

	api := httpapi.New(cfg, b, proxy, caller, contexts, gateway, assembler, preference, metrics)

	cleanup := func() error {
		if err := store.Close(); err != nil {
			return fmt.Errorf("close history store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}

// bindPort extracts the port of the bind address for the control API curl
// instructions injected into prompts.
func bindPort(bindAddr string) string {
	_, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		trimmed := strings.TrimPrefix(bindAddr, ":")
		if trimmed != "" {
			return trimmed
		}
		return "8000"
	}
	return port
}
