// Package sources defines the contract between the ingestion pipeline and the
// collaborators that fetch raw content.
//
// An Adapter serves one source type. Discover lists the targets the adapter
// knows about and Fetch retrieves one of them as a RawRecord. Adapters are
// registered by type in a Registry, which the pipeline consults when it
// schedules a run:
//
//	registry := sources.NewRegistry()
//	for typ, targets := range sources.GroupByType(seeds) {
//		registry.Register(web.New(typ, targets, web.WithUserAgent(ua)))
//	}
//
// Seed lists are TOML files read with LoadSeeds.
package sources
