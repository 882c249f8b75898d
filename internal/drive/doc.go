// Package drive implements command interpretation for the Motor Control Node.
//
// A raw text line such as "FORWARD 120" is parsed into a Command carrying a
// closed Direction value, and a Mapper turns that Command into the per-side
// polarity and PWM duty pair applied by a motor driver.
//
// Wire format:
//   - One command per line, datagram or WebSocket message
//   - Case-sensitive keyword: FORWARD, BACKWARD, LEFT, RIGHT, STOP
//   - Optional single space followed by a decimal speed (0-255)
package drive
