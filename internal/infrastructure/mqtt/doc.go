// Package mqtt is the MQTT transport for Gray Logic IoT, built on
// paho.mqtt.golang.
//
// This package manages:
//   - Connection to the broker with optional auto-reconnect
//   - Mutual TLS from CA, certificate and key files
//   - Keep-alive, clean session and Last Will and Testament
//   - Turning paho callbacks into transport events for Poll
//
// # Architecture
//
// Paho invokes message and connection callbacks on its own goroutines.
// Client converts each into a transport.Event and queues it. The event
// distributor is the single caller of Poll and fans the events out.
//
//	paho callbacks → inbox → Client.Poll → distributor → handles
//
// Requests (Subscribe, Publish, Unsubscribe) go straight to paho and wait
// for the token, so their errors are returned to the caller. Ping traffic
// is handled inside paho and never surfaces as an event.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	d := distributor.New()
//	go d.Run(ctx, client)
package mqtt
