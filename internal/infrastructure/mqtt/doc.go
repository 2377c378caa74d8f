// Package mqtt wraps paho.mqtt.golang for the MQTT sink: connection
// management with automatic reconnect, and publishing with timeouts.
//
// The agent only publishes; subscription support is deliberately absent.
package mqtt
