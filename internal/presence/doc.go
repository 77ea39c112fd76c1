// Package presence tracks which Shelly devices are on the broker.
//
// The Tracker is fed exclusively by the topic router: presence messages
// set the online flag, status and event messages mark a device online.
// Entries are never removed automatically; Clear drops them all, which the
// session does on an explicit disconnect.
package presence
