// Package s3 implements the S3 storage driver (C4): plain object access
// plus the presigned-URL multipart upload protocol.
package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoshipconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/retry"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// Driver implements types.Driver and types.MultipartDriver against one S3
// bucket/prefix pair (one mount's worth of a storage_config).
type Driver struct {
	rootPrefix string
	mgr        *clientManager
	caps       types.CapabilitySet
	retryer    *retry.Retryer
}

// New builds a Driver for the given storage_config, rooted at rootPrefix
// (the mount's rootPath within the bucket).
func New(ctx context.Context, cfg *Config, rootPrefix string, logger *slog.Logger) (*Driver, error) {
	mgr, err := newClientManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := mgr.healthCheck(ctx); err != nil {
		mgr.close()
		return nil, err
	}

	return &Driver{
		rootPrefix: strings.Trim(rootPrefix, "/"),
		mgr:        mgr,
		caps: types.NewCapabilitySet(
			types.CapReader,
			types.CapWriter,
			types.CapMultipart,
			types.CapPresigned,
		),
		retryer: retry.New(retry.DefaultConfig()),
	}, nil
}

// Close releases the underlying connection pool.
func (d *Driver) Close() error {
	return d.mgr.close()
}

// Capabilities reports this driver's feature set.
func (d *Driver) Capabilities() types.CapabilitySet {
	return d.caps
}

func (d *Driver) key(fsPath string) string {
	p := strings.TrimPrefix(fsPath, "/")
	if d.rootPrefix == "" {
		return p
	}
	if p == "" {
		return d.rootPrefix
	}
	return d.rootPrefix + "/" + p
}

// Exists reports whether fsPath has a corresponding object.
func (d *Driver) Exists(ctx context.Context, fsPath string) (bool, error) {
	_, err := d.Stat(ctx, fsPath)
	if err != nil {
		if gwErr, ok := err.(*gwerrors.GatewayError); ok && gwErr.Code == gwerrors.ErrCodePathNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns object metadata for fsPath.
func (d *Driver) Stat(ctx context.Context, fsPath string) (*types.ObjectInfo, error) {
	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	key := d.key(fsPath)
	var result *s3.HeadObjectOutput
	err := d.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(d.mgr.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return d.translateError(err, "Stat", key)
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	info := &types.ObjectInfo{
		Key:          fsPath,
		Size:         aws.ToInt64(result.ContentLength),
		LastModified: aws.ToTime(result.LastModified),
		ETag:         aws.ToString(result.ETag),
		ContentType:  aws.ToString(result.ContentType),
		Metadata:     make(map[string]string, len(result.Metadata)),
	}
	for k, v := range result.Metadata {
		info.Metadata[k] = v
	}
	return info, nil
}

// ListDirectory lists the objects immediately under fsPath.
func (d *Driver) ListDirectory(ctx context.Context, fsPath string) ([]types.ObjectInfo, error) {
	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	prefix := d.key(fsPath)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []types.ObjectInfo
	var token *string
	for {
		var result *s3.ListObjectsV2Output
		err := d.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			page, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(d.mgr.cfg.Bucket),
				Prefix:            aws.String(prefix),
				Delimiter:         aws.String("/"),
				ContinuationToken: token,
			})
			if err != nil {
				return d.translateError(err, "ListDirectory", prefix)
			}
			result = page
			return nil
		})
		if err != nil {
			return nil, err
		}

		for _, p := range result.CommonPrefixes {
			name := strings.TrimPrefix(aws.ToString(p.Prefix), prefix)
			out = append(out, types.ObjectInfo{Key: strings.TrimSuffix(name, "/"), IsDir: true})
		}
		for _, obj := range result.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			out = append(out, types.ObjectInfo{
				Key:          name,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}

		if !aws.ToBool(result.IsTruncated) {
			break
		}
		token = result.NextContinuationToken
	}

	return out, nil
}

// DownloadFile opens a (possibly ranged) read stream for fsPath.
func (d *Driver) DownloadFile(ctx context.Context, fsPath string, r types.ByteRange) (io.ReadCloser, error) {
	client := d.mgr.pool.Get()
	if client == nil {
		client = d.mgr.client
	}

	key := d.key(fsPath)
	input := &s3.GetObjectInput{
		Bucket: aws.String(d.mgr.cfg.Bucket),
		Key:    aws.String(key),
	}
	if r.Start > 0 || r.End > 0 {
		if r.End > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", r.Start, r.End))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", r.Start))
		}
	}

	result, err := client.GetObject(ctx, input)
	d.mgr.pool.Put(client)
	if err != nil {
		return nil, d.translateError(err, "DownloadFile", key)
	}

	return result.Body, nil
}

// CreateDirectory writes a zero-byte marker object for fsPath, since S3 has
// no native directory concept.
func (d *Driver) CreateDirectory(ctx context.Context, fsPath string) error {
	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	key := d.key(fsPath)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.mgr.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return d.translateError(err, "CreateDirectory", key)
	}
	return nil
}

// UploadFile writes fsPath's full contents, routing through CargoShip's
// optimized transporter when enabled and falling back to a plain PutObject.
func (d *Driver) UploadFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	key := d.key(fsPath)

	if d.mgr.transporter != nil {
		archive := cargoships3.Archive{
			Key:          key,
			Reader:       r,
			Size:         size,
			StorageClass: cargoshipconfig.StorageClassStandard,
		}
		result, err := d.mgr.transporter.Upload(ctx, archive)
		if err == nil {
			d.mgr.logger.Debug("cargoship upload completed", "key", key, "size", size,
				"throughput", result.Throughput, "duration", result.Duration)
			return nil
		}
		d.mgr.logger.Warn("cargoship upload failed, falling back to standard put", "key", key, "error", err)
	}

	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.mgr.cfg.Bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return d.translateError(err, "UploadFile", key)
	}
	return nil
}

// UpdateFile behaves identically to UploadFile for S3 (objects are immutable
// and a write always replaces the whole object).
func (d *Driver) UpdateFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	return d.UploadFile(ctx, fsPath, r, size)
}

// RenameItem copies then deletes, since S3 has no atomic rename.
func (d *Driver) RenameItem(ctx context.Context, fromPath, toPath string) error {
	if err := d.CopyItem(ctx, fromPath, toPath); err != nil {
		return err
	}
	return d.BatchRemoveItems(ctx, []string{fromPath})
}

// CopyItem performs a server-side S3 copy.
func (d *Driver) CopyItem(ctx context.Context, fromPath, toPath string) error {
	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	fromKey := d.key(fromPath)
	toKey := d.key(toPath)

	_, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.mgr.cfg.Bucket),
		Key:        aws.String(toKey),
		CopySource: aws.String(d.mgr.cfg.Bucket + "/" + fromKey),
	})
	if err != nil {
		return d.translateError(err, "CopyItem", fromKey)
	}
	return nil
}

// BatchRemoveItems deletes fsPaths in one DeleteObjects call (clamped to S3's
// 1000-key-per-request limit).
func (d *Driver) BatchRemoveItems(ctx context.Context, fsPaths []string) error {
	if len(fsPaths) == 0 {
		return nil
	}

	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	const maxBatch = 1000
	for start := 0; start < len(fsPaths); start += maxBatch {
		end := start + maxBatch
		if end > len(fsPaths) {
			end = len(fsPaths)
		}

		objects := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, p := range fsPaths[start:end] {
			objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(d.key(p))})
		}

		_, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.mgr.cfg.Bucket),
			Delete: &s3types.Delete{Objects: objects},
		})
		if err != nil {
			return d.translateError(err, "BatchRemoveItems", fmt.Sprintf("%d items", len(objects)))
		}
	}
	return nil
}

// MultipartDriver returns this Driver, which also implements
// types.MultipartDriver.
func (d *Driver) MultipartDriver() types.MultipartDriver {
	return d
}

func (d *Driver) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return gwerrors.NotFound(gwerrors.ErrCodePathNotFound, fmt.Sprintf("object not found: %s", key)).WithCause(err)
	case isErrorType[*s3types.NoSuchBucket](err):
		return gwerrors.Infrastructure(gwerrors.ErrCodeConnectionFailed, fmt.Sprintf("bucket not found: %s", d.mgr.cfg.Bucket)).WithCause(err)
	case isErrorType[*s3types.NoSuchUpload](err):
		return gwerrors.Expired(gwerrors.ErrCodeUploadNotFound, fmt.Sprintf("upload not found for %s", key)).WithCause(err)
	default:
		return gwerrors.Infrastructure(gwerrors.ErrCodeStoreWrite, fmt.Sprintf("%s failed for %s", operation, key)).WithCause(err).WithOperation(operation)
	}
}

func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
