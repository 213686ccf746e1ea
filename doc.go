// Package opticalsend implements the OpticalSend protocol engine: an
// end-to-end encrypted, dual-channel (visual QR + binary) file transfer
// protocol designed to survive partial loss, reordering, pauses, and
// process restart.
//
// The engine itself never touches a camera, a screen, or a network
// socket. It consumes two transport adapters (visual and binary, see
// package transport) that the host application supplies, and it drives
// a durable journal (package journal) so that sessions can pause,
// resume, and recover across restarts.
//
// Dependency order mirrors the component design: internal/aead (crypto
// primitives) -> internal/codec (compression) -> block model (this
// package) -> internal/journal (persistence) -> handshake -> transfer
// engine.
package opticalsend
