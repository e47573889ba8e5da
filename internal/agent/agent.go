// Package agent runs the drclink control agent: one supervised DRC link
// to a vehicle gateway plus the HTTP surface exposing its health.
package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drclink-io/drclink/internal/agent/server"
	"github.com/drclink-io/drclink/pkg/drc"
	"github.com/drclink-io/drclink/pkg/log"
)

// teardownTimeout bounds the control release on shutdown. It covers the
// DRC exit and the authority release, each of which is one service call.
const teardownTimeout = 10 * time.Second

type Agent struct {
	gatewaySN string
	client    *drc.Client
	server    *server.Server
}

func NewAgent(sn string, client *drc.Client, srv *server.Server) *Agent {
	return &Agent{
		gatewaySN: sn,
		client:    client,
		server:    srv,
	}
}

// Client exposes the control client, for command surfaces layered on the
// agent.
func (a *Agent) Client() *drc.Client { return a.client }

// Run brings the control link up and serves until ctx is canceled. The
// broker connection lives on its own context so the teardown can still
// publish the DRC exit and control release after ctx is already dead.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting drclink-agent", "gateway", a.gatewaySN)

	linkCtx, linkCancel := context.WithCancel(context.Background())
	defer linkCancel()

	if err := a.client.SetupControl(linkCtx); err != nil {
		return fmt.Errorf("setup control: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()

		teardownCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := a.client.TeardownControl(teardownCtx); err != nil {
			log.Error(err, "Control teardown finished with errors")
		}
		return nil
	})

	err := g.Wait()
	log.Info("Agent shutting down...")

	return err
}
