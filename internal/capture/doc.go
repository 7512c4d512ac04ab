// Package capture turns camera frames into attendance writes.
//
// A Reader supplies grayscale frames, a Decoder extracts QR payloads, the Gate
// suppresses repeated triggers within the cooldown window, and a Session ties
// them to the ledger while owning the capture goroutine and its lifecycle.
package capture
