// Package network carries zero-buffer collective traffic between processes
// over HTTP.
//
// # Core Components
//
// Peer: a zbcoll.Transport. Every word is sent as one POST whose body is a
// protobuf frame holding the sender address and the 64-bit word. The
// receiver answers 202 Accepted, which the sender reports as an ack.
//
// # Delivery
//
// Sends run in the background and retry connection errors until the peer
// timeout, so peers may be started in any order. Received words and send
// completions are queued and only reach the collective engine when it calls
// Progress, keeping the engine single-threaded.
//
// # TLS
//
// WithCertificate switches a peer to HTTPS and WithLimitedCAs restricts both
// directions to a pool of trusted certificates. GenerateSelfSignedCert
// produces suitable certificates for tests and local runs.
package network
