// Package stream provides a small generic multi-consumer event stream.
//
// A Broadcaster replaces per-feature callback registration: producers
// publish values, and any number of observers subscribe with their own
// buffered channel. Slow observers lose values rather than stall the
// producer.
//
//	statuses, cancel := tracker.Statuses()
//	defer cancel()
//	for u := range statuses {
//	    fmt.Println(u.DeviceID, u.On)
//	}
package stream
