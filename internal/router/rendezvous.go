package router

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"github.com/relaygw/aigateway/internal/provider"
)

func xxhashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// selectInstance deterministically picks one of several adapter instances
// registered under the same provider_id, using rendezvous (highest random
// weight) hashing keyed by affinityKey. The same key always maps to the
// same instance for a fixed instance set, with no shared mutable state and
// no need to track which instance served the last request — the hash is a
// pure function of (affinityKey, instance set).
func selectInstance(instances []provider.Adapter, affinityKey string) provider.Adapter {
	if len(instances) == 1 {
		return instances[0]
	}

	nodes := make([]string, len(instances))
	for i := range instances {
		nodes[i] = instanceNodeName(i)
	}

	hasher := rendezvous.New(nodes, xxhashString)
	chosen := hasher.Get(affinityKey)

	for i, name := range nodes {
		if name == chosen {
			return instances[i]
		}
	}
	return instances[0]
}

// instanceNodeName gives each instance a stable synthetic identity for the
// rendezvous hasher; instances themselves don't carry string ids.
func instanceNodeName(i int) string {
	return "instance-" + strconv.Itoa(i)
}
