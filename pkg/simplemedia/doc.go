// Package simplemedia ingests, protects and stores user images for a
// creative-portfolio platform.
//
// A Service issues short-lived direct-upload credentials, runs the
// asynchronous ingestion pipeline (fetch, watermark, canonical encode,
// metadata embed, write new object, commit record, retire old object) and
// manages the storage lifecycle of each asset. Blob stores (memory,
// filesystem, S3) and record stores (memory, Postgres) live in subpackages.
//
// # Storage Invariant
//
// Every asset has exactly one live object. A new storage key is committed to
// the owning record only after the new object is confirmed written, and the
// previous object is deleted only after that commit. Public URLs are derived
// from keys on read and never stored.
package simplemedia
