// Package transport receives command lines from the network and hands them to
// the control loop through a single-slot Inbox.
//
// Every listener runs in its own goroutines and only touches the core via
// Inbox.Offer. The Inbox holds at most one line: a newer line replaces an
// unconsumed older one, so the loop always acts on the most recent intent.
//
// Supported sources:
//   - TCPServer: newline-terminated stream, one active client at a time
//   - UDPServer: one datagram per line
//   - WSHandler: one WebSocket text message per line, one active socket
package transport
