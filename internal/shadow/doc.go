// Package shadow keeps a local mirror of a device shadow and drives the
// get, update and delete request/response protocol over MQTT.
//
// A Manager owns one consumer handle on the event distributor. It
// subscribes to the eight response and push topics of its thing, publishes
// requests through a Publisher, and routes each response to the matching
// handler in Handlers. Handlers are plain closures fixed at construction;
// there is no shared topic-to-callback table.
//
// # Request states
//
// Get, update and delete are tracked independently. A request moves its
// action to Awaiting before the publish and back to Idle when the matching
// accepted or rejected response arrives, when the publish fails, or when
// Config.ResponseTimeout elapses (if set). Delta and documents pushes can
// arrive at any time and do not touch request states.
//
// # Mirror
//
// Update merges one key under state.reported and publishes the whole
// accumulated document. Responses from the broker never modify the mirror;
// reconciling desired and reported state is left to the UpdateDelta handler.
package shadow
