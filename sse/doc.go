// Package sse writes Server-Sent Events streams.
//
// The discovery watch endpoint uses it to push membership changes:
//
//	stream, err := sse.Open(w, log)
//	if err != nil {
//	    return
//	}
//	stream.Send(sse.Event{Name: sse.EventSnapshot, Data: instances})
//	sse.Pump(ctx, stream, sse.EventUpdate, updates, 30*time.Second)
package sse
