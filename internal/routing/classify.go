package routing

import "strings"

// Kind is the class of an inbound message.
type Kind int

// Message classes, decided from the topic alone.
const (
	KindUnknown Kind = iota
	KindReply
	KindPresence
	KindStatus
	KindEvent
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindPresence:
		return "presence"
	case KindStatus:
		return "status"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Topic segments that separate the device identifier from the rest.
const (
	segOnline = "online"
	segStatus = "status"
	segEvents = "events"
	segRPC    = "rpc"
)

// Route is the classification of one topic.
type Route struct {
	Kind Kind

	// DeviceID is the topic prefix before the first marker segment. It is
	// not validated here.
	DeviceID string

	// Channel is the sub-channel of a status or event topic, e.g. "switch:0".
	Channel string
}

// Classify maps a topic to its Route for a session whose replies arrive on
// "<identity>/rpc".
//
//	<identity>/rpc              reply
//	<device>/online             presence
//	<device>/status/<channel>   status
//	<device>/events/<channel>   event
//
// Anything else, including a marker followed by extra segments, is unknown.
func Classify(identity, topic string) Route {
	if identity != "" && topic == identity+"/"+segRPC {
		return Route{Kind: KindReply, DeviceID: identity}
	}

	segs := strings.Split(topic, "/")
	for i := 1; i < len(segs); i++ {
		switch segs[i] {
		case segOnline:
			if i != len(segs)-1 {
				return Route{}
			}
			return Route{Kind: KindPresence, DeviceID: strings.Join(segs[:i], "/")}

		case segStatus, segEvents:
			if i != len(segs)-2 || segs[i+1] == "" {
				return Route{}
			}
			kind := KindStatus
			if segs[i] == segEvents {
				kind = KindEvent
			}
			return Route{Kind: kind, DeviceID: strings.Join(segs[:i], "/"), Channel: segs[i+1]}
		}
	}
	return Route{}
}
