// Package bootstrap runs the lifecycle of a discovery daemon.
//
// NewApp validates a typed config, initializes the logger and creates the
// component registry. Run starts the registered components in order, runs
// the start and ready hooks and prints a startup summary. It then blocks
// until SIGINT or SIGTERM, runs the stop hooks and stops the components in
// reverse order within the graceful timeout.
//
//	app, err := bootstrap.NewApp(&cfg)
//	if err != nil {
//	    return err
//	}
//	app.RegisterComponent(configComponent)
//	app.RegisterComponent(discoveryComponent)
//	app.RegisterComponent(serverComponent)
//	app.OnStop(discoveryComponent.Deregister)
//	return app.Run(ctx)
package bootstrap
