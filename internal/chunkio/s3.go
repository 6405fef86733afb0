package chunkio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spatialio/octree"
)

// s3Client is the subset of *s3.Client this adapter needs, so tests can
// substitute a fake without standing up a real bucket.
type s3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// S3Endpoint backs chunk/hierarchy/manifest storage with an S3 bucket and
// key prefix, grounded on the aws-sdk-go-v2 + service/s3 dependency pair
// the retrieval pack's protomaps-go-pmtiles and dolthub-dolt repos both
// carry for exactly this kind of object-store Endpoint.
type S3Endpoint struct {
	Client s3Client
	Bucket string
	Prefix string
}

// NewS3Endpoint wraps an already-configured *s3.Client. Building the
// client (region, credentials) is the caller's responsibility — this
// module never reads AWS configuration itself.
func NewS3Endpoint(client *s3.Client, bucket, prefix string) *S3Endpoint {
	return &S3Endpoint{Client: client, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}
}

func (s *S3Endpoint) fullKey(key string) string {
	if s.Prefix == "" {
		return key
	}
	return s.Prefix + "/" + key
}

func (s *S3Endpoint) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return nil, octree.WrapError(octree.EndpointIoError, "s3: get "+key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, octree.WrapError(octree.EndpointIoError, "s3: reading body for "+key, err)
	}
	return data, nil
}

func (s *S3Endpoint) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return octree.WrapError(octree.EndpointIoError, "s3: put "+key, err)
	}
	return nil
}

func (s *S3Endpoint) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, octree.WrapError(octree.EndpointIoError, "s3: head "+key, err)
	}
	return true, nil
}

func (s *S3Endpoint) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	var token *string
	for {
		resp, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.Bucket),
			Prefix:            aws.String(s.fullKey(prefix)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, octree.WrapError(octree.EndpointIoError, "s3: list "+prefix, err)
		}
		for _, obj := range resp.Contents {
			out = append(out, strings.TrimPrefix(aws.ToString(obj.Key), s.Prefix+"/"))
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

func (s *S3Endpoint) Copy(ctx context.Context, src, dst string) error {
	source := s.Bucket + "/" + s.fullKey(src)
	_, err := s.Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.Bucket),
		Key:        aws.String(s.fullKey(dst)),
		CopySource: aws.String(source),
	})
	if err != nil {
		return octree.WrapError(octree.EndpointIoError, "s3: copy "+src+" -> "+dst, err)
	}
	return nil
}
