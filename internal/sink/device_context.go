//go:build cgo

package sink

import (
	"log/slog"

	"github.com/gen2brain/malgo"
)

// deviceContext wraps malgo.AllocatedContext with lifecycle management.
// One context can back several devices over its lifetime.
type deviceContext struct {
	ctx *malgo.AllocatedContext
}

func newDeviceContext() (*deviceContext, error) {
	slog.Debug("initializing audio device context")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo internal", "message", message)
	})
	if err != nil {
		slog.Error("failed to initialize audio device context", "error", err)
		return nil, err
	}

	slog.Info("audio device context initialized")
	return &deviceContext{ctx: ctx}, nil
}

func (c *deviceContext) Close() error {
	if c.ctx == nil {
		slog.Debug("audio device context already closed")
		return nil
	}

	slog.Debug("closing audio device context")

	// malgo requires both Uninit and Free.
	if err := c.ctx.Uninit(); err != nil {
		slog.Error("failed to uninitialize audio device context", "error", err)
		return err
	}
	c.ctx.Free()
	c.ctx = nil

	slog.Debug("audio device context closed")
	return nil
}

func (c *deviceContext) Raw() *malgo.AllocatedContext {
	return c.ctx
}

func (c *deviceContext) IsValid() bool {
	return c.ctx != nil
}
