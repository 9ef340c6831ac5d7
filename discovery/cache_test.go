package discovery

import "testing"

func TestCacheEntry_CommitKeepsNewest(t *testing.T) {
	e := &cacheEntry{}
	older, newer := e.seq.Add(1), e.seq.Add(1)

	set := func(ids ...string) func(*Snapshot) *Snapshot {
		return func(*Snapshot) *Snapshot {
			snap := &Snapshot{Freshness: Fresh}
			for _, id := range ids {
				snap.Instances = append(snap.Instances, ServiceInstance{ID: id})
			}
			return snap
		}
	}
	failed := func(prev *Snapshot) *Snapshot {
		cp := *prev
		cp.Freshness = Failed
		return &cp
	}

	if _, ok := e.commit(newer, set("a", "b")); !ok {
		t.Fatal("first commit refused")
	}
	if _, ok := e.commit(older, set("a")); ok {
		t.Error("an answer from an older query replaced a newer one")
	}
	if _, ok := e.commit(older, failed); ok {
		t.Error("an older failure marked a newer answer failed")
	}

	snap := e.snap.Load()
	if len(snap.Instances) != 2 || snap.Freshness != Fresh || snap.seq != newer {
		t.Errorf("snapshot = %+v", snap)
	}

	if _, ok := e.commit(newer, failed); !ok || e.snap.Load().Freshness != Failed {
		t.Error("the same query could not update its own snapshot")
	}
}

func TestCacheEntry_CommitNilLeavesEntry(t *testing.T) {
	e := &cacheEntry{}
	if prev, ok := e.commit(1, func(*Snapshot) *Snapshot { return nil }); ok || prev != nil {
		t.Errorf("commit = %v, %v", prev, ok)
	}
	if e.snap.Load() != nil {
		t.Error("entry was written")
	}
}
