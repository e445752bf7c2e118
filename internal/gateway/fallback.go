package gateway

import (
	"context"
	"errors"
	"fmt"
)

// FallbackClient tries a primary client first and falls back on failure.
type FallbackClient struct {
	primary  Client
	fallback Client
}

func NewFallback(primary, fallback Client) *FallbackClient {
	return &FallbackClient{primary: primary, fallback: fallback}
}

func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	if c.primary == nil {
		if c.fallback != nil {
			return c.fallback.Complete(ctx, req)
		}
		return Response{}, &Error{Kind: KindUnknown, Err: fmt.Errorf("fallback client misconfigured")}
	}
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil || c.fallback == nil {
		return Response{}, err
	}
	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		return Response{}, &Error{
			Kind: Classify(err),
			Err:  fmt.Errorf("primary: %w; fallback: %v", err, fallbackErr),
		}
	}
	return fallbackResp, nil
}
