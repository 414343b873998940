package s3

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

const maxListPartsPages = 50

// Initialize starts a backend multipart upload and returns the provider
// upload id plus the bucket/key/TTL metadata the sign step depends on.
func (d *Driver) Initialize(ctx context.Context, sess *types.Session) (string, map[string]any, error) {
	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	key := d.key(sess.FSPath)
	result, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(d.mgr.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(sess.MimeType),
	})
	if err != nil {
		return "", nil, d.translateError(err, "Initialize", key)
	}

	meta := map[string]any{
		"bucket":        d.mgr.cfg.Bucket,
		"key":           key,
		"urlTtlSeconds": int(d.mgr.cfg.URLTTL.Seconds()),
	}
	return aws.ToString(result.UploadId), meta, nil
}

// Sign returns presigned UploadPart URLs. An empty partNumbers slice invokes
// server_decides: it scans ListParts pages for the first unfilled part
// number and signs a window of maxPartsPerRequest parts starting there.
func (d *Driver) Sign(ctx context.Context, sess *types.Session, partNumbers []int) ([]types.SignedPart, error) {
	maxPerRequest := sess.TotalParts
	if v, ok := sess.ProviderMeta["maxPartsPerRequest"].(int); ok && v > 0 {
		maxPerRequest = v
	}
	if maxPerRequest <= 0 || maxPerRequest > sess.TotalParts {
		maxPerRequest = sess.TotalParts
	}

	nums := partNumbers
	if len(nums) == 0 {
		expected, err := d.firstMissingPart(ctx, sess)
		if err != nil {
			return nil, err
		}
		if expected > sess.TotalParts {
			return []types.SignedPart{}, nil
		}
		end := expected + maxPerRequest - 1
		if end > sess.TotalParts {
			end = sess.TotalParts
		}
		for n := expected; n <= end; n++ {
			nums = append(nums, n)
		}
	} else if len(nums) > maxPerRequest {
		return nil, gwerrors.Validation(gwerrors.ErrCodeTooManyParts,
			fmt.Sprintf("requested %d parts exceeds maxPartsPerRequest %d", len(nums), maxPerRequest))
	}

	ttl := 15 * time.Minute
	if sess.ProviderMeta != nil {
		if v, ok := sess.ProviderMeta["urlTtlSeconds"].(int); ok && v > 0 {
			ttl = time.Duration(v) * time.Second
		}
	}

	key := d.key(sess.FSPath)
	expiresAt := time.Now().Add(ttl)

	signed := make([]types.SignedPart, 0, len(nums))
	for _, n := range nums {
		req, err := d.mgr.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(d.mgr.cfg.Bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(sess.ProviderUploadID),
			PartNumber: aws.Int32(int32(n)),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			if isErrorType[*s3types.NoSuchUpload](err) {
				return nil, gwerrors.Validation(gwerrors.ErrCodeSessionExpired, "upload expired").WithCause(err)
			}
			return nil, d.translateError(err, "Sign", key)
		}
		signed = append(signed, types.SignedPart{
			PartNumber: n,
			URL:        req.URL,
			ExpiresAt:  expiresAt,
		})
	}

	return signed, nil
}

// firstMissingPart scans ListParts pages to find the smallest part number
// ≥1 that has not been uploaded, stopping early on the first gap.
func (d *Driver) firstMissingPart(ctx context.Context, sess *types.Session) (int, error) {
	uploaded := make(map[int]struct{})

	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	key := d.key(sess.FSPath)
	var marker *string
	for page := 0; page < maxListPartsPages; page++ {
		out, err := client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(d.mgr.cfg.Bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(sess.ProviderUploadID),
			MaxParts:         aws.Int32(1000),
			PartNumberMarker: marker,
		})
		if err != nil {
			if isErrorType[*s3types.NoSuchUpload](err) {
				return 0, gwerrors.Validation(gwerrors.ErrCodeSessionExpired, "upload expired").WithCause(err)
			}
			return 0, d.translateError(err, "Sign", key)
		}

		for _, p := range out.Parts {
			uploaded[int(aws.ToInt32(p.PartNumber))] = struct{}{}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		marker = out.NextPartNumberMarker
	}

	for n := 1; n <= sess.TotalParts; n++ {
		if _, ok := uploaded[n]; !ok {
			return n, nil
		}
	}
	return sess.TotalParts + 1, nil
}

// ListParts returns the provider's authoritative part list. A NoSuchUpload
// response is treated as an already-cleaned-up session rather than an error.
func (d *Driver) ListParts(ctx context.Context, sess *types.Session) ([]types.Part, error) {
	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	key := d.key(sess.FSPath)
	var out []types.Part
	var marker *string
	for {
		result, err := client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(d.mgr.cfg.Bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(sess.ProviderUploadID),
			MaxParts:         aws.Int32(1000),
			PartNumberMarker: marker,
		})
		if err != nil {
			if isErrorType[*s3types.NoSuchUpload](err) {
				return []types.Part{}, nil
			}
			return nil, d.translateError(err, "ListParts", key)
		}

		for _, p := range result.Parts {
			out = append(out, types.Part{
				UploadID:       sess.ProviderUploadID,
				PartNo:         int(aws.ToInt32(p.PartNumber)),
				Size:           aws.ToInt64(p.Size),
				Status:         types.PartUploaded,
				ProviderPartID: aws.ToString(p.ETag),
				UpdatedAt:      aws.ToTime(p.LastModified),
			})
		}

		if !aws.ToBool(result.IsTruncated) {
			break
		}
		marker = result.NextPartNumberMarker
	}

	return out, nil
}

// Complete finalizes the multipart upload, preferring the client-reported
// part list and falling back to the provider's ListParts view.
func (d *Driver) Complete(ctx context.Context, sess *types.Session, parts []types.PartRef) (*types.ObjectInfo, error) {
	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	key := d.key(sess.FSPath)

	if len(parts) == 0 {
		authoritative, err := d.ListParts(ctx, sess)
		if err != nil {
			return nil, err
		}
		for _, p := range authoritative {
			parts = append(parts, types.PartRef{PartNumber: p.PartNo, ETag: p.ProviderPartID})
		}
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	completedParts := make([]s3types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completedParts = append(completedParts, s3types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		})
	}

	result, err := client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(d.mgr.cfg.Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(sess.ProviderUploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completedParts},
	})
	if err != nil {
		return nil, d.translateError(err, "Complete", key)
	}

	return &types.ObjectInfo{
		Key:  sess.FSPath,
		Size: sess.FileSize,
		ETag: aws.ToString(result.ETag),
	}, nil
}

// Abort releases the provider-side multipart upload.
func (d *Driver) Abort(ctx context.Context, sess *types.Session) error {
	client := d.mgr.pool.Get()
	defer d.mgr.pool.Put(client)
	if client == nil {
		client = d.mgr.client
	}

	key := d.key(sess.FSPath)
	_, err := client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.mgr.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: aws.String(sess.ProviderUploadID),
	})
	if err != nil {
		if isErrorType[*s3types.NoSuchUpload](err) {
			return nil
		}
		return d.translateError(err, "Abort", key)
	}
	return nil
}
