package domain

import "context"

// Service forwards a single prompt to the upstream model provider.
type Service interface {
	Prompt(context.Context, PromptRequest) (Response, error)
}
