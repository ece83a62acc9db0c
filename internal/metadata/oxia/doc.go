// Package oxia implements metadata.MetadataStore on Oxia.
//
// Each director uses its own Oxia namespace, e.g. "reclaim/<director>".
// Catalog records and job records are regular keys. Named resource leases
// are ephemeral keys bound to the client session, so a crashed reclaimd
// drops its leases once SessionTimeout elapses.
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "reclaim/director-1",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package oxia
