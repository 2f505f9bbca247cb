// Package signaling implements the WebSocket transport gateway for the relay.
//
// Each browser client holds one WebSocket connection. Inbound frames are JSON
// envelopes of the form {"event": "...", "data": {...}}; the gateway parses
// and validates them, then hands them to the room router. Outbound events use
// the same envelope and are fanned out through per-connection send queues so
// one slow client cannot stall delivery to the rest of a room.
package signaling
