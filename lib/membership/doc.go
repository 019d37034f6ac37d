// Package membership answers the question "which machine is the master?".
//
// Two implementations exist:
//
//   - static: the master is fixed by configuration, used for tests and for
//     single machine setups
//   - raft: the members of the cluster run a small Dragonboat shard. The raft
//     leader of that shard is the master. A replicated registry maps the
//     machine ids (equal to the raft replica ids) to the addresses of their
//     HA endpoints, so slaves know where to connect to.
//
// Election itself is fully delegated to Dragonboat. When the leader changes,
// Master returns the new machine and the ha package reacts to the change.
package membership
