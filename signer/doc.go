// Package signer implements Ed25519 signing and verification for protocol
// documents. Keys are accepted in raw byte or PEM form.
package signer
