// Package zbcoll implements zero-buffer collectives: barrier, broadcast and
// reduce over a group of endpoints, where every message is a single 64-bit
// word sent with a point-to-point Transport.
//
// # Core Components
//
// Endpoint: the engine bound to one transport endpoint. It owns the group
// table, the packet counters and the ready list, and is driven by Progress.
//
// Object: one group of participants. Participants are addressed by rank;
// rank 0 is the root of a radix tree (see package tree) along which every
// operation runs.
//
// # Protocol
//
// Every operation flows up the tree and back down. A rank waits for all of
// its children, combines their values with its own and forwards the result to
// its parent. The root turns the flow around and the value it releases is
// copied to every rank on the way down.
//
// Before any collective, the participants negotiate a group id with GetGroup.
// The free-id masks of all endpoints are AND-reduced and the root picks the
// next free id in round-robin order. The id is carried in every later packet,
// so several objects can run concurrently on one endpoint.
//
// # Simulation
//
// AllocSim hosts every rank of a group in one object; AllocSimRank hosts a
// single rank and SimLink joins such objects into one group. Simulated
// packets carry the source and destination ranks, so all ranks share the
// local transport address.
//
// # Progress
//
// Nothing blocks and no goroutine is started. Operations return as soon as
// the first words are queued; the caller polls Progress, or AwaitIdle, until
// the objects are no longer busy. Completion runs the object callback.
package zbcoll
