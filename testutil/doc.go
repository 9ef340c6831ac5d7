// Package testutil drives test components through their lifecycle.
//
// A TestComponent is a component.Component that can also be reset,
// snapshotted and restored. The in-memory registry in discovery/testutil
// and the inspection server in server/testutil implement it, so a test can
// seed memberships once and rewind them between cases:
//
//	backend := dtestutil.NewBackend()
//	testutil.T(t).Setup(backend)
//	backend.AddInstance("orders", discovery.ServiceInstance{ID: "orders-1", Host: "10.0.0.1", Port: 8080})
//	snap := testutil.T(t).Snapshot(backend)
//	// ... deregister, evict, fail calls ...
//	testutil.T(t).Restore(backend, snap)
//
// Manager handles several components at once: it starts them in order,
// stops them in reverse and snapshots them by name.
package testutil
