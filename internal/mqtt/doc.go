// Package mqtt exports dispatcher lifecycle events to an MQTT broker.
//
// Every event on the bus is published as JSON to
// <prefix>/events/<source>/<kind>. A retained <prefix>/availability
// topic carries "online" on every (re-)connect and "offline" on clean
// shutdown, with a will message covering unexpected disconnects. After
// each completed request, the day's running counters are published
// retained to <prefix>/stats.
//
// Connection management uses Eclipse Paho v2's [autopaho] package,
// which reconnects automatically in the background.
package mqtt
