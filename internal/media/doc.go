// Package media holds the data types that flow between pipeline stages:
// encoded input chunks, decoder configuration, reference-counted raw frames,
// composite frames and encoded output.
//
// Raw frames are expensive. Every RawFrame is a handle onto a pooled pixel
// buffer; Clone adds a handle, Release drops one, and the buffer goes back to
// its Pool when the last handle is released. The Pool keeps an acquire/release
// ledger so tests can assert that a pipeline run leaked nothing.
package media
