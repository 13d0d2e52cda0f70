// Package oxia implements the MetadataStore interface using Oxia.
//
// Oxia is a distributed metadata store designed for high-performance streaming systems.
// This package wraps the Oxia Go SDK to provide the MetadataStore interface used by checkerd.
//
// Usage:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "checkerd",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	// Store a value
//	version, err := store.Put(ctx, "/checker/v1/instances/my-instance/info", data)
//
//	// Retrieve a value
//	result, err := store.Get(ctx, "/checker/v1/instances/my-instance/info")
//
// Namespace:
//
// Each checkerd deployment uses a dedicated Oxia namespace (e.g. "checkerd"),
// isolating it from any other service sharing the same Oxia instance.
//
// Ephemeral Keys:
//
// PutEphemeral creates keys that are automatically deleted when the client session ends.
// This is used for replica registration and other service discovery patterns; the
// checker's own JobRecycle lease does not use it, since that lease carries an
// explicit expiration field rather than a session-bound TTL.
//
// Transactions:
//
// Transactions use Oxia's shard-scoped write batch API to provide atomic multi-key
// updates within a single shard (PartitionKey scope).
//
// Notifications:
//
// The Notifications method returns a stream of change events for cache invalidation
// and other reactive patterns. Once subscribed, all subsequent changes are delivered.
package oxia
