// Package resolver resolves the MQTT broker host name before connecting.
//
// Brokers on a home network are often announced only over mDNS
// ("mosquitto.local"), which the system resolver may not answer on every
// platform. The resolver therefore tries DNS, then an mDNS browse for the
// broker service, and falls back to the last address that worked or, as a
// last resort, to the host name itself. Each fallback is logged.
package resolver
