package aiclient

import (
	"context"
	"fmt"
	"strings"
)

// Router dispatches a ChatRequest to one of several provider adapters
// keyed by the "<provider>/" prefix of ProviderModel (the convention
// ChatRequest.ProviderModel documents, e.g. "anthropic/claude-3-opus").
// The prefix is stripped before the request reaches the adapter, which
// only ever sees its own bare model id.
type Router struct {
	adapters map[string]Client
	fallback Client // used when ProviderModel carries no recognized prefix
}

// NewRouter builds a Router. adapters maps a provider prefix ("openai",
// "anthropic", "bedrock", ...) to the Client that serves it.
func NewRouter(adapters map[string]Client, fallback Client) *Router {
	return &Router{adapters: adapters, fallback: fallback}
}

func (r *Router) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	provider, bare, ok := splitProviderModel(req.ProviderModel)
	if !ok {
		if r.fallback == nil {
			return ChatResult{}, fmt.Errorf("aiclient: no provider prefix in %q and no fallback client configured", req.ProviderModel)
		}
		return r.fallback.Chat(ctx, req)
	}
	c, ok := r.adapters[provider]
	if !ok {
		return ChatResult{}, fmt.Errorf("aiclient: no adapter registered for provider %q", provider)
	}
	req.ProviderModel = bare
	return c.Chat(ctx, req)
}

func splitProviderModel(providerModel string) (provider, bare string, ok bool) {
	idx := strings.Index(providerModel, "/")
	if idx <= 0 {
		return "", providerModel, false
	}
	return providerModel[:idx], providerModel[idx+1:], true
}
