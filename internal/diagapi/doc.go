// Package diagapi exposes a small HTTP and WebSocket diagnostics API
// for a running gateway: the current value of each attached
// com-object, a live feed of inbound telegrams and link events, and
// two bearer-token-guarded mutating endpoints to reset the bus and
// write a com-object. It never manages devices, rooms, or users — it
// only ever controls the one KNX link this process owns.
package diagapi
