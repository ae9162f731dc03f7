// Package transfer moves granule files from the archive's object store to
// local scratch space, or opens them as remote streams.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/cenkalti/backoff"
	"github.com/google/go-cloud/blob"
	"github.com/google/go-cloud/blob/fileblob"
	"github.com/google/go-cloud/blob/s3blob"

	"github.com/CLIMCAPS-tools/climcaps-cloud-prototypes/internal/catalog"
)

// maxBatchTries bounds the whole-batch download retry. The store
// sporadically fails individual objects within an otherwise fine batch,
// so the entire batch is re-issued until every slot succeeds or the
// budget runs out.
const maxBatchTries = 3

const retryInterval = 2 * time.Second

// Result is the tagged outcome of one download slot: a local path on
// success, an error otherwise.
type Result struct {
	Path string
	Err  error
}

// OK reports whether the slot produced a usable local file.
func (r Result) OK() bool { return r.Err == nil }

// bucketReader is the part of the blob store the fetcher reads through.
type bucketReader interface {
	NewReader(ctx context.Context, key string) (io.ReadCloser, error)
}

type blobBucket struct{ b *blob.Bucket }

func (bb blobBucket) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return bb.b.NewReader(ctx, key)
}

// OpenBucket opens the object store named by spec, either "file://dir"
// (local, used in tests) or "s3://bucket" (the Earthdata cloud archive,
// credentials from the AWS environment variables).
func OpenBucket(ctx context.Context, spec string) (*blob.Bucket, error) {
	u, err := url.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("transfer: bad bucket spec %q: %w", spec, err)
	}
	switch u.Scheme {
	case "file":
		return fileblob.NewBucket(filepath.Join(u.Host, u.Path))
	case "s3":
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-west-2"
		}
		c := &aws.Config{
			Region:      aws.String(region),
			Credentials: credentials.NewEnvCredentials(),
		}
		s := session.Must(session.NewSession(c))
		return s3blob.OpenBucket(ctx, s, u.Host)
	}
	return nil, fmt.Errorf("transfer: unsupported bucket scheme %q", u.Scheme)
}

// Fetcher downloads or opens granules from one bucket.
type Fetcher struct {
	logger *slog.Logger
	bucket bucketReader
}

// NewFetcher creates a fetcher over an open bucket.
func NewFetcher(logger *slog.Logger, b *blob.Bucket) *Fetcher {
	return &Fetcher{logger: logger, bucket: blobBucket{b}}
}

// DownloadAll fetches every granule into destDir (created if absent). The
// whole batch is retried up to maxBatchTries times, stopping early once
// every slot holds a path. The last attempt's per-slot results are
// returned even when incomplete; unresolved slots surface as load
// failures downstream.
func (f *Fetcher) DownloadAll(ctx context.Context, granules []catalog.Granule, destDir string) ([]Result, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("transfer: creating scratch dir %s: %w", destDir, err)
	}

	var results []Result
	op := func() error {
		results = f.downloadBatch(ctx, granules, destDir)
		failed := 0
		for _, r := range results {
			if !r.OK() {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("transfer: %d of %d granules failed to download", failed, len(granules))
		}
		return nil
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), maxBatchTries-1), ctx)
	notify := func(err error, d time.Duration) {
		f.logger.Warn("retrying granule batch download", "err", err, "in", d)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		f.logger.Warn("batch download incomplete after retries", "err", err)
	}
	return results, nil
}

func (f *Fetcher) downloadBatch(ctx context.Context, granules []catalog.Granule, destDir string) []Result {
	results := make([]Result, len(granules))
	for i, g := range granules {
		p, err := f.downloadOne(ctx, g, destDir)
		if err != nil {
			results[i] = Result{Err: err}
			continue
		}
		results[i] = Result{Path: p}
	}
	return results
}

func (f *Fetcher) downloadOne(ctx context.Context, g catalog.Granule, destDir string) (string, error) {
	key, err := blobKey(g)
	if err != nil {
		return "", err
	}
	r, err := f.bucket.NewReader(ctx, key)
	if err != nil {
		return "", fmt.Errorf("transfer: opening %s: %w", key, err)
	}
	defer r.Close()

	dest := filepath.Join(destDir, path.Base(key))
	w, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("transfer: creating %s: %w", dest, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		os.Remove(dest)
		return "", fmt.Errorf("transfer: downloading %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("transfer: writing %s: %w", dest, err)
	}
	return dest, nil
}

// OpenAll returns one remote stream per granule, in order, without local
// copies. The first failed open aborts and closes whatever was opened.
func (f *Fetcher) OpenAll(ctx context.Context, granules []catalog.Granule) ([]io.ReadCloser, error) {
	readers := make([]io.ReadCloser, 0, len(granules))
	abort := func() {
		for _, r := range readers {
			r.Close()
		}
	}
	for _, g := range granules {
		key, err := blobKey(g)
		if err != nil {
			abort()
			return nil, err
		}
		r, err := f.bucket.NewReader(ctx, key)
		if err != nil {
			abort()
			return nil, fmt.Errorf("transfer: opening stream for %s: %w", key, err)
		}
		readers = append(readers, r)
	}
	return readers, nil
}

// blobKey maps a granule's primary data link onto its key within the
// bucket.
func blobKey(g catalog.Granule) (string, error) {
	link, err := g.PrimaryLink()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("transfer: granule %q: bad data link: %w", g.ID, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("transfer: granule %q: data link %q has no object key", g.ID, link)
	}
	return key, nil
}
