/*
Package security implements the Worker's gate chain (emergency stop,
tier resolution, parameter sanitisation, path-jail) and the TLS
helpers used by the Gateway's WebSocket listener and the Worker's
outbound dialer.
*/
package security
