// Package wire defines the protocol documents and their canonical JSON
// encoding. Every signed document travels as an envelope of the form
// {"signableEntity": ..., "signature": "<base64>"}; signatures are computed
// over the canonical bytes of the entity.
package wire
