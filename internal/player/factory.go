package player

import (
	"log/slog"
	"sync"

	"github.com/jmylchreest/tvinput/internal/httpclient"
	"github.com/jmylchreest/tvinput/internal/session"
)

// Factory creates engines that fetch streams through a shared client.
type Factory struct {
	client *httpclient.Client
	logger *slog.Logger
	group  sync.WaitGroup
}

var _ session.EngineFactory = (*Factory)(nil)

// NewFactory creates an engine factory.
func NewFactory(client *httpclient.Client) *Factory {
	return &Factory{
		client: client,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger.
func (f *Factory) WithLogger(logger *slog.Logger) *Factory {
	f.logger = logger
	return f
}

// NewEngine implements session.EngineFactory.
func (f *Factory) NewEngine(listener session.EngineListener) session.Engine {
	return newEngine(listener, f.client, &f.group, f.logger)
}

// Wait blocks until every released engine has shut down its stream.
func (f *Factory) Wait() {
	f.group.Wait()
}
