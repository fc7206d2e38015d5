// Package vigil implements a supervised activation loop for a single
// autonomous LLM agent. A Scheduler wakes the agent on a fixed interval,
// runs one streaming tool-calling round against the host, records the
// round to an append-only timeline, has an auditor model fold the round
// into a structured YAML snapshot of the agent's world, and fans every
// lifecycle event out to operator consoles over a broadcast bus.
//
// The root package holds the engine: the scheduler, the round loop, the
// broadcast bus, the context builder, and the shared protocol types.
// Subpackages provide the concrete collaborators: tools (the executor),
// stealth (the cloaking layer), memory (timeline/snapshot/feed files),
// provider/* (LLM backends), skills and persona (content providers),
// and internal/web (the management console).
package vigil
