package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/google/uuid"
	"github.com/stellarlinkco/nanoclaw/internal/config"
)

// sdkRuntime is the slice of api.Runtime the runner uses (mockable in
// tests).
type sdkRuntime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close() error
}

var _ sdkRuntime = (*api.Runtime)(nil)

// SDKRunner is the in-process backend over agentsdk-go. The SDK keys
// conversations by caller-supplied session ID rather than issuing
// handles, so the runner mints a fresh handle on first contact and
// reports it as backend-issued; resumed calls reuse the given handle.
type SDKRunner struct {
	rt sdkRuntime
}

func NewSDKRunner(cfg *config.Config, workspace string) (*SDKRunner, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'nanoclaw onboard' or set NANOCLAW_API_KEY / ANTHROPIC_API_KEY")
	}

	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   workspace,
		ModelFactory:  provider,
		MaxIterations: cfg.Agent.MaxToolIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &SDKRunner{rt: rt}, nil
}

func (r *SDKRunner) Invoke(ctx context.Context, req Request) (*Outcome, error) {
	sessionID := req.Resume
	issued := ""
	if sessionID == "" {
		sessionID = uuid.NewString()
		issued = sessionID
	}

	resp, err := r.rt.Run(ctx, api.Request{
		Prompt:    req.Prompt,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{SessionID: issued}
	if resp != nil && resp.Result != nil {
		outcome.Result = resp.Result.Output
	}
	return outcome, nil
}

func (r *SDKRunner) Close() {
	if r.rt != nil {
		if err := r.rt.Close(); err != nil {
			log.Printf("[agent] close runtime: %v", err)
		}
	}
}
