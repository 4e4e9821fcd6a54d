// Package distributor fans the MQTT engine's event stream out to any number
// of independently paced consumers.
//
// A single goroutine runs Distributor.Run, which owns the transport's
// receive side. Every inbound event it polls is broadcast to each live
// Handle. Handles are cheap and can be created at any time, including while
// Run is active; a handle sees only events sequenced after it was created.
//
// # Backpressure
//
// Each handle has its own buffer. A full buffer never blocks the poll loop
// and never affects sibling handles: depending on the OverflowPolicy the
// handle drops its oldest buffered event or the incoming one, and the drop
// is reported as a ChannelError through the OnDrop hook and the logger.
//
// # Lifetime
//
// The distributor only keeps weak references to handle buffers. A handle
// that its owner stops referencing is deregistered once it is garbage
// collected, so callers are not required to close handles. Close is still
// available for deterministic release.
//
// # Usage
//
//	d := distributor.New(distributor.WithBufferSize(128))
//	go func() {
//	    if err := d.Run(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
//	        log.Error("event loop stopped", "error", err)
//	    }
//	}()
//
//	h := d.NewHandle()
//	defer h.Close()
//	for {
//	    ev, err := h.Recv(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(ev)
//	}
package distributor
