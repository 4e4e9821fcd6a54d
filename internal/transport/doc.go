// Package transport defines the contract between Gray Logic IoT and the
// MQTT protocol engine that owns the broker connection.
//
// The engine (see internal/infrastructure/mqtt for the paho-backed
// implementation) is polled for inbound protocol events and accepts
// subscribe, publish and unsubscribe requests. Everything above this
// package (the distributor, the client facade and the shadow manager)
// depends only on these interfaces, never on paho directly.
//
// # Events
//
// An Event is an immutable value describing one protocol occurrence:
//
//	Connected, Publish, PublishAck, SubscribeAck, UnsubscribeAck,
//	PingRequest, PingResponse, Disconnect
//
// Events are produced only by a Transport and are shared read-only between
// consumers. Constructors copy caller-supplied slices so an Event never
// aliases memory owned by the engine.
//
// # Errors
//
//   - ConnectionError: the engine cannot reach or was rejected by the broker.
//     Fatal when the engine will not reconnect on its own.
//   - RequestError: a single subscribe/publish/unsubscribe call failed.
//
// Use errors.As to inspect them and IsFatal to decide whether a poll loop
// should stop.
package transport
