package storage

import "renderfleet/internal/ports"

// Store is the object-store contract used across worker, autoscaler
// and fleetctl. It is an alias to ports.ObjectStore to keep call-sites
// simple.
type Store = ports.ObjectStore
