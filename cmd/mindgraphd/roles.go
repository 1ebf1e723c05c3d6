package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/MrWong99/mindgraph/internal/agent/consistency"
	"github.com/MrWong99/mindgraph/internal/agent/frameagg"
	"github.com/MrWong99/mindgraph/internal/agent/graphwriter"
	"github.com/MrWong99/mindgraph/internal/agent/llmtree"
	"github.com/MrWong99/mindgraph/internal/agent/sessionctl"
	"github.com/MrWong99/mindgraph/internal/agent/snapshot"
	sttagent "github.com/MrWong99/mindgraph/internal/agent/stt"
	"github.com/MrWong99/mindgraph/internal/bus"
	"github.com/MrWong99/mindgraph/internal/client"
	"github.com/MrWong99/mindgraph/internal/config"
	"github.com/MrWong99/mindgraph/internal/dashboard"
	"github.com/MrWong99/mindgraph/internal/event"
	"github.com/MrWong99/mindgraph/internal/heartbeat"
	"github.com/MrWong99/mindgraph/internal/observe"
	"github.com/MrWong99/mindgraph/internal/store"
)

// consumer is the bus-facing side every role exposes: which topics it wants
// and what to do with each envelope.
type consumer interface {
	Topics() []string
	HandleEvent(ctx context.Context, topic string, env event.Envelope)
}

// runtime bundles the shared infrastructure a role builder draws from.
type runtime struct {
	cfg     *config.Settings
	store   *store.Store
	bus     *bus.Service
	hb      *heartbeat.Publisher
	metrics *observe.Metrics
	logger  *slog.Logger
}

// role is one assembled deployable: its event consumer plus any background
// loops it needs alongside the bus subscription.
type role struct {
	consumer consumer
	runners  []func(ctx context.Context) error
}

// needsStore reports whether the role touches Postgres. The frame aggregator
// is purely in-memory and must start even when the database is down.
func needsStore(name string) bool {
	return name != frameagg.AgentName
}

// roleBuilders maps role names to their assembly functions. The role name
// doubles as the agent name in heartbeats and as the MQTT client id.
var roleBuilders = map[string]func(rt *runtime) (*role, error){
	sessionctl.AgentName: func(rt *runtime) (*role, error) {
		return &role{consumer: sessionctl.New(rt.store, rt.bus, rt.hb, rt.metrics, rt.logger)}, nil
	},
	frameagg.AgentName: func(rt *runtime) (*role, error) {
		a := frameagg.New(rt.bus, rt.hb, rt.metrics, rt.cfg.FrameSilenceTimeout(), rt.logger)
		return &role{consumer: a, runners: []func(ctx context.Context) error{a.Run}}, nil
	},
	sttagent.AgentName: func(rt *runtime) (*role, error) {
		transcriber := client.NewSTT(rt.cfg.STTServiceURL, rt.logger)
		return &role{consumer: sttagent.New(rt.store, transcriber, rt.bus, rt.hb, rt.metrics, rt.logger)}, nil
	},
	llmtree.AgentName: func(rt *runtime) (*role, error) {
		llm := client.NewLLM(rt.cfg.LLMServiceURL, rt.logger)
		return &role{consumer: llmtree.New(rt.store, llm, rt.bus, rt.hb, rt.metrics, rt.logger)}, nil
	},
	consistency.AgentName: func(rt *runtime) (*role, error) {
		return &role{consumer: consistency.New(rt.store, rt.bus, rt.hb, rt.metrics, rt.logger)}, nil
	},
	graphwriter.AgentName: func(rt *runtime) (*role, error) {
		return &role{consumer: graphwriter.New(rt.store, rt.hb, rt.metrics, rt.logger)}, nil
	},
	snapshot.AgentName: func(rt *runtime) (*role, error) {
		a := snapshot.New(rt.store, rt.bus, rt.hb, rt.metrics, rt.cfg.SnapshotInterval(), rt.logger)
		return &role{consumer: a, runners: []func(ctx context.Context) error{a.Run}}, nil
	},
	dashboard.AgentName: func(rt *runtime) (*role, error) {
		state := dashboard.NewState(rt.logger)
		srv, err := dashboard.NewServer(rt.store, state, rt.metrics, rt.logger)
		if err != nil {
			return nil, fmt.Errorf("assemble dashboard: %w", err)
		}
		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", rt.cfg.DashboardPort),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		return &role{
			consumer: state,
			runners: []func(ctx context.Context) error{
				func(ctx context.Context) error { return serveHTTP(ctx, httpSrv, rt.logger) },
			},
		}, nil
	},
}

// buildRole assembles the named role or fails with the list of known names.
func buildRole(name string, rt *runtime) (*role, error) {
	builder, ok := roleBuilders[name]
	if !ok {
		return nil, fmt.Errorf("unknown role %q (known roles: %v)", name, roleNames())
	}
	return builder(rt)
}

func roleNames() []string {
	names := make([]string, 0, len(roleBuilders))
	for name := range roleBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// serveHTTP runs the server until ctx is cancelled, then shuts it down with a
// short grace period.
func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("http server listening", "addr", srv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
