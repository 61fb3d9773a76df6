// Package main is the entry point for the aigateway gateway.
package main

import (
	"fmt"
	"net/http"

	"github.com/relaygw/aigateway/internal/config"
	"github.com/relaygw/aigateway/internal/provider"
	"github.com/relaygw/aigateway/internal/router"
	"github.com/relaygw/aigateway/internal/server"
	"github.com/relaygw/aigateway/internal/telemetry"
)

// adapterFactory builds an Adapter instance from one ProviderConfig and the
// shared HTTP client every adapter is constructed with.
type adapterFactory func(cfg provider.Config, client *http.Client) provider.Adapter

var adapterConstructors = map[string]adapterFactory{
	"gemini": func(cfg provider.Config, client *http.Client) provider.Adapter {
		return provider.NewGeminiAdapter(cfg, client)
	},
	"openai": func(cfg provider.Config, client *http.Client) provider.Adapter {
		return provider.NewOpenAIAdapter(cfg, client)
	},
	"anthropic": func(cfg provider.Config, client *http.Client) provider.Adapter {
		return provider.NewAnthropicAdapter(cfg, client)
	},
}

// buildRegistry constructs the provider registry from config: one adapter
// instance per configured {api_key, base_url} pair, registered under the
// provider's name, with its models mapped to that same provider id.
//
// Each provider gets its own *http.Client derived from the shared base
// client, with Timeout set to providers.<id>.timeout when configured —
// otherwise the provider's upstream calls are bounded only by the
// per-request deadline the handler applies to ctx.
func buildRegistry(cfg *config.Config, baseClient *http.Client) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	for name, provCfg := range cfg.Providers {
		if !provCfg.Enabled {
			continue
		}

		factory, ok := adapterConstructors[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider in config: %q", name)
		}

		client := baseClient
		if provCfg.Timeout > 0 {
			clientCopy := *baseClient
			clientCopy.Timeout = provCfg.Timeout
			client = &clientCopy
		}

		for _, inst := range provCfg.Instances {
			adapterCfg := provider.Config{
				APIKey:           inst.APIKey,
				APIBase:          inst.BaseURL,
				Models:           provCfg.Models,
				Timeout:          int(provCfg.Timeout.Seconds()),
				MaxRetries:       provCfg.MaxRetries,
				Enabled:          provCfg.Enabled,
				AnthropicVersion: provCfg.AnthropicVersion,
			}
			registry.RegisterProvider(name, factory(adapterCfg, client))
		}

		for _, model := range provCfg.Models {
			registry.RegisterModel(model, name)
		}
	}

	return registry, nil
}

// buildRouter assembles the Router from the registry plus the optional rule
// engine and semantic selector named in config.
func buildRouter(cfg *config.Config, registry *provider.Registry) (*router.Router, error) {
	var rules *router.RuleEngine
	if len(cfg.Router.Rules) > 0 {
		ruleList := make([]router.Rule, len(cfg.Router.Rules))
		for i, r := range cfg.Router.Rules {
			ruleList[i] = router.Rule{ID: r.ID, Script: r.Script, Provider: r.Provider}
		}
		rules = router.NewRuleEngine(ruleList)
	}

	selector, err := router.NewSemanticSelector(router.SemanticConfig{
		ModelPath:     cfg.Router.Semantic.ModelPath,
		TokenizerPath: cfg.Router.Semantic.TokenizerPath,
		DefaultModel:  cfg.Router.Semantic.DefaultModel,
		InputName:     cfg.Router.Semantic.InputName,
		OutputName:    cfg.Router.Semantic.OutputName,
		Dim:           cfg.Router.Semantic.Dim,
	})
	if err != nil {
		return nil, fmt.Errorf("building semantic selector: %w", err)
	}

	return router.New(registry, rules, selector), nil
}

func main() {
	sink, err := telemetry.NewZapSink()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	defer sink.Sync()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		sink.Error("failed to load config", "error", err.Error())
		panic(err)
	}

	client := &http.Client{}

	registry, err := buildRegistry(cfg, client)
	if err != nil {
		sink.Error("failed to build provider registry", "error", err.Error())
		panic(err)
	}

	rt, err := buildRouter(cfg, registry)
	if err != nil {
		sink.Error("failed to build router", "error", err.Error())
		panic(err)
	}

	srv := server.New(server.Deps{
		Registry:         registry,
		Router:           rt,
		Sink:             sink,
		MaxTokensCeiling: cfg.Limits.MaxTokensCeiling,
		MaxRequestBytes:  cfg.Server.MaxRequestBytes,
		RequestTimeout:   cfg.Server.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sink.Info("aigateway listening", "port", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		sink.Error("server error", "error", err.Error())
		panic(err)
	}
}
