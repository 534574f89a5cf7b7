// Package integration exercises full classroom flows over a real websocket
// transport on loopback, with only the model runtime stubbed out.
package integration
