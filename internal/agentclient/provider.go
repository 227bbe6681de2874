package agentclient

import (
	"context"
	"fmt"

	"github.com/imaddar/pair-match/internal/statemachine"
)

type EndpointResolver interface {
	EndpointForSession(sessionID string) (string, error)
}

// StaticEndpoint sends every session to the same agent.
type StaticEndpoint string

func (s StaticEndpoint) EndpointForSession(string) (string, error) {
	return string(s), nil
}

// RevealProvider drives a session from a remote agent.
type RevealProvider struct {
	Client            Client
	Endpoints         EndpointResolver
	DefaultDeadlineMS uint64
}

func (p RevealProvider) NextReveal(ctx context.Context, view statemachine.View) (int, error) {
	if p.Endpoints == nil {
		return 0, ErrEndpointNotConfigured
	}

	endpoint, err := p.Endpoints.EndpointForSession(view.SessionID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEndpointNotConfigured, err)
	}
	if endpoint == "" {
		return 0, fmt.Errorf("%w: session %s", ErrEndpointNotConfigured, view.SessionID)
	}

	deadlineMS := p.DefaultDeadlineMS
	if deadlineMS == 0 {
		deadlineMS = defaultDeadlineMS
	}

	client := p.Client
	if client.httpClient == nil {
		client = New(defaultTimeout)
	}

	return client.NextReveal(ctx, Request{
		EndpointURL: endpoint,
		View:        view,
		DeadlineMS:  deadlineMS,
	})
}
