// Package testutil provides testing utilities for the discovery module.
//
// Backend is an in-memory registry implementing discovery.Backend,
// component.Component and testutil.TestComponent. Failures are scripted per
// operation and every call is counted, which makes registrar and resolver
// behaviour observable without a real registry.
//
// # Quick Start
//
//	reg := testutil.NewBackend()
//	reg.AddInstance("orders", discovery.ServiceInstance{
//	    ID: "orders-1", Host: "127.0.0.1", Port: 8080, Status: discovery.StatusUp,
//	})
//	reg.Fail(testutil.OpRenew, errors.Timeout("renew"))
//
//	resolver, _ := discovery.NewResolver(reg, discovery.ResolverConfig{})
//	instances := resolver.Resolve(ctx, "orders")
package testutil
