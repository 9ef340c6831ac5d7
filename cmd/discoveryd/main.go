// Command discoveryd registers the local instance with a service registry,
// keeps its lease alive and serves the discovered membership and the
// resolved remote configuration over HTTP.
//
//	discoveryd -config discoveryd.yml
//	discoveryd -resolve billing
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kbukum/discoverykit/bootstrap"
	"github.com/kbukum/discoverykit/configsource"
	"github.com/kbukum/discoverykit/discovery"
	"github.com/kbukum/discoverykit/discovery/redisstore"
	"github.com/kbukum/discoverykit/observability"
	"github.com/kbukum/discoverykit/redis"
	"github.com/kbukum/discoverykit/server"
	"github.com/kbukum/discoverykit/server/endpoint"
	"github.com/kbukum/discoverykit/version"

	_ "github.com/kbukum/discoverykit/configsource/consulkv"
	_ "github.com/kbukum/discoverykit/configsource/springcloud"
	_ "github.com/kbukum/discoverykit/configsource/vault"
	_ "github.com/kbukum/discoverykit/discovery/consul"
	_ "github.com/kbukum/discoverykit/discovery/eureka"
	_ "github.com/kbukum/discoverykit/discovery/static"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	resolve := flag.String("resolve", "", "resolve one service, print its instances and exit")
	showVersion := flag.Bool("version", false, "print the build version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	if err := run(context.Background(), *configPath, *resolve, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "discoveryd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, resolve string, out io.Writer) error {
	cfg, src, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	if resolve != "" {
		// one-shot runs must not announce themselves or bind the port
		cfg.Discovery.Registration.Enabled = false
		cfg.Server.Enabled = false
	}

	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return err
	}
	disc, err := wire(app, src)
	if err != nil {
		return err
	}

	if resolve != "" {
		return app.RunTask(ctx, func(ctx context.Context) error {
			return printInstances(ctx, out, disc.Resolver(), resolve)
		})
	}
	return app.Run(ctx)
}

// wire registers the components in start order. The server needs the
// started resolver and registrar, so it comes last and StopAll would close
// it first; the OnStop hook deregisters before that.
func wire(app *bootstrap.App[*Config], src *configsource.Component) (*discovery.Component, error) {
	cfg := app.Cfg
	log := app.Logger

	obs := observability.NewComponent(cfg.Observability, cfg.Name, cfg.Version, cfg.Environment, log)

	discOpts := []discovery.ComponentOption{
		discovery.WithMetricsFunc(func() discovery.Metrics {
			if m := obs.Metrics(); m != nil {
				return m
			}
			return nil
		}),
		discovery.WithBackendWrapper(func(b discovery.Backend) discovery.Backend {
			return observability.TraceBackend(b, nil)
		}),
	}

	var cache *redis.Component
	if cfg.Redis.Enabled {
		client, err := redis.New(cfg.Redis.Config, log)
		if err != nil {
			return nil, err
		}
		cache = redis.NewComponentWithClient(client, log)
		discOpts = append(discOpts, discovery.WithStore(redisstore.New(client, cfg.Redis.SnapshotTTL)))
	}

	disc := discovery.NewComponent(cfg.Discovery.Config, cfg.Discovery.backendConfig(), log, discOpts...)

	if err := app.RegisterComponent(src); err != nil {
		return nil, err
	}
	if err := app.RegisterComponent(obs); err != nil {
		return nil, err
	}
	if cache != nil {
		if err := app.RegisterComponent(cache); err != nil {
			return nil, err
		}
	}
	if err := app.RegisterComponent(disc); err != nil {
		return nil, err
	}
	app.OnStop(disc.Deregister)

	if !cfg.Server.Enabled {
		return disc, nil
	}
	srv := server.New(&cfg.Server, log)
	srv.ApplyMiddleware()
	info := endpoint.ServiceInfo{Name: cfg.Name, Version: cfg.Version, Environment: cfg.Environment}
	sc := server.NewComponent(srv, server.WithSetup(func(s *server.Server) {
		e := server.Endpoints{
			Info:     info,
			Checker:  app.Components.HealthAll,
			Resolver: disc.Resolver(),
			Config:   func() endpoint.PropertyLookup { return src.Resolver() },
		}
		if r := disc.Registrar(); r != nil {
			e.Lease = r
		}
		s.RegisterDefaultEndpoints(e)
		s.TrackRoutes(app.Summary)
	}))
	if err := app.RegisterComponent(sc); err != nil {
		return nil, err
	}
	return disc, nil
}

func printInstances(ctx context.Context, out io.Writer, r *discovery.Resolver, service string) error {
	instances := r.Resolve(ctx, service)
	if len(instances) == 0 {
		return fmt.Errorf("no instances of %q", service)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(instances)
}
