// Package telegram implements the Telegram storage driver (C5): a
// single_session multipart upload protocol that ferries large files through
// a Telegram bot as a series of sendDocument calls, recording a chunk
// manifest as the object's content reference instead of writing bytes to a
// conventional object store.
//
// The Bot API's HTTP wire format itself is treated as an external
// collaborator reached through the BotAPI interface, the same way the S3
// driver treats the AWS SDK's *s3.Client as its collaborator: this package
// owns the chunking, idempotency, and concurrency policy around that
// collaborator, not the wire protocol.
package telegram
