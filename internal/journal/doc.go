// Package journal records MQTT events into SQLite.
//
// A Journal consumes its own distributor handle, so a slow disk never
// delays other consumers: under sustained load the handle's overflow
// policy decides what the journal loses. Recent serves the API's event
// history endpoint and Prune enforces the configured retention.
//
// The mqtt_events table is created by the embedded migrations.
package journal
