/*
Package s3 implements the storage driver for S3-compatible backends (C4):
plain object operations (READER/WRITER) plus the presigned-URL multipart
protocol (MULTIPART/PRESIGNED).

Initialize creates a backend multipart upload and records bucket/key/TTL in
the session's provider metadata. Sign supports both explicit part numbers
and server_decides mode (partNumbers == nil), which scans ListParts pages
for the first part number with no uploaded part and signs a window of
maxPartsPerRequest URLs starting there, never the whole upload. ListParts,
Complete, and Abort are thin translations of the matching S3 APIs; Complete
falls back to the provider's authoritative part list when the caller didn't
supply one.

Whole-object uploads route through a CargoShip transporter when
EnableCargoShipOptimization is set, falling back to a plain PutObject call
on transporter error.

# Connection Pooling

Each Driver owns a ConnectionPool of *s3.Client instances so presign and
upload calls don't pay client-construction cost per request; the pool runs
a background health check that recycles connections failing a cheap
ListBuckets probe.
*/
package s3
