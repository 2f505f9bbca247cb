// Package room contains the relay's membership and routing core.
//
// The Registry maps live connections to their room and display name, the
// Directory maps rooms to member sets, and the Router turns inbound
// signaling events into state mutations plus addressed outbound events.
// All mutations are serialized behind a single mutex so the two structures
// never disagree about who is where.
package room
