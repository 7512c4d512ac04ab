// Command qrattend is the operator CLI for QR attendance stations.
//
// It runs a station against a camera or a directory of replay images, and
// manages the ledger: events, the participant roster and attendance records.
// `watch` follows ledger changes live, either by polling the ledger directly
// or by subscribing to a station's Redis feed.
package main
