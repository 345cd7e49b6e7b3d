package store

import (
	"bytes"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// ErrKeyExists means Create was called for a key that already has an
// object at it. Objects are immutable once stored; delete first to
// replace one.
var ErrKeyExists = errors.New("store: key already exists")

// S3 stores promote.Mirror's zip bundles in an AWS S3 bucket. A mirror
// bundle is a single off-site backup copy of one deposit, written once and
// read back rarely (an operator restoring from backup, or a test verifying
// Mirror wrote the right bytes) — nothing here ever streams a bundle larger
// than fits comfortably in memory, so unlike a general-purpose tiered blob
// store, S3 buffers each object whole rather than paging reads or chunking
// uploads into S3's multipart API.
//
// Do not change Bucket or Prefix concurrently with calls using the structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
}

var _ Store = &S3{}

// NewS3 creates a new S3-backed mirror store. It will use the given bucket
// and will prepend prefix to all keys, letting a bucket serve more than one
// prefix-scoped store — a deployment could, for instance, point both
// mirror.s3-bucket and an unrelated archive at the same bucket under
// different prefixes. The authorization method and credentials in the
// session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

// List returns a list of all the keys in this store. It will only return ones
// that satisfy the store's Prefix, so it is safe to use this on a bucket
// containing other items.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix),
		}
		err := s.svc.ListObjectsV2Pages(input,
			func(page *s3.ListObjectsV2Output, lastpage bool) bool {
				for _, item := range page.Contents {
					out <- strings.TrimPrefix(*item.Key, s.Prefix)
				}
				return !lastpage
			})
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// ListPrefix returns the keys in this store that have the given prefix.
// The argument prefix is added to the store's Prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(*item.Key, s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		log.Println("S3 ListPrefix:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Pattern": prefix})
	}
	return result, err
}

// Open downloads the object at key in full and returns a ReadAtCloser over
// the bytes held in memory. A mirror bundle is a whole deposit's zip
// archive: read back rarely enough, and small enough, that paging pieces
// in from S3 on demand buys nothing here.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	out, err := s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		return nil, 0, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, 0, err
	}
	return &s3Object{data: data}, int64(len(data)), nil
}

// s3Object adapts a fully downloaded S3 object to the ReadAtCloser
// interface.
type s3Object struct {
	data []byte
}

func (o *s3Object) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(o.data)) {
		return 0, io.EOF
	}
	n := copy(p, o.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (o *s3Object) Close() error { return nil }

// Create returns a WriteCloser that buffers the mirror bundle in memory and
// uploads it with a single PutObject when closed. It fails with
// ErrKeyExists if the key is already occupied, matching the store's
// immutable-once-written contract.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	if _, err := s.stat(key); err == nil {
		return nil, ErrKeyExists
	}
	return &s3PutCloser{svc: s.svc, bucket: s.Bucket, key: s.Prefix + key}, nil
}

type s3PutCloser struct {
	svc    *s3.S3
	bucket string
	key    string
	buf    bytes.Buffer
}

func (w *s3PutCloser) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *s3PutCloser) Close() error {
	_, err := w.svc.PutObject(&s3.PutObjectInput{
		Body:          bytes.NewReader(w.buf.Bytes()),
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(w.key),
		ContentLength: aws.Int64(int64(w.buf.Len())),
	})
	if err != nil {
		log.Println("S3 Close:", w.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": w.bucket, "Key": w.key})
	}
	return err
}

// Delete will remove the given key from the store. The store's Prefix is
// prepended first. It is not an error to delete something that doesn't exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
	}
	return err
}

// stat checks whether a key exists by issuing a HEAD request. Create's only
// caller needs existence, not the size, but HeadObject is the one request
// that gives us that without downloading the object.
func (s *S3) stat(key string) (int64, error) {
	info, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		return 0, err
	}
	return *info.ContentLength, nil
}
