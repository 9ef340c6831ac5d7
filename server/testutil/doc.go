// Package testutil serves the inspection API from an httptest.Server.
//
// The component implements both component.Component and
// testutil.TestComponent, so it can be driven by a testutil.Manager next to
// the in-memory discovery backend.
//
//	backend := dtestutil.NewBackend()
//	resolver, _ := discovery.NewResolver(backend, discovery.ResolverConfig{})
//	srv := testutil.NewComponent(server.Endpoints{Resolver: resolver})
//	testutil.T(t).Setup(srv)
//
//	resp, _ := http.Get(srv.BaseURL() + "/discovery/services/orders")
package testutil
