// Package convcache memoizes expensive file conversions (office documents to
// PDF, image downscaling) under cache/conversions/<kind>/.
//
// Cache slots are keyed by the canonical absolute source path. Each artifact
// has a JSON sidecar recording the source's mtime, size and content hash.
// Hashed sources are rehashed on every reuse; sources larger than the hash
// threshold record the "skipped" sentinel and are invalidated by any mtime
// change. Convert holds an exclusive file lock
// on the slot and commits artifact and sidecar through temp files and
// renames, so concurrent callers never observe a half-written pair.
package convcache
