// Package agents provides the concrete workers of the lodge pipeline.
//
// Four stage tasks run in pipeline order, each seeing the accumulated results
// of the stages before it:
//
//   - HARVESTER extracts concepts from the page text via the generation gateway
//   - ARCHITECT groups concepts into domains (hub nodes) by category
//   - CURATOR links every concept to its domain with an is_a taxonomy edge
//   - CRITIC proposes hypotheses for concepts extracted with low confidence
//
// OBSERVER does not take part in the pipeline; it narrates round activity as
// INFO packets for live viewers.
package agents
