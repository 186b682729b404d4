package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/axiomgraph/axiom/pkg/errs"
)

// S3Client is the subset of the S3 SDK surface the adapter needs, so GCS
// and R2 (both S3-API-compatible) can be targeted by pointing the client at
// a custom endpoint resolver without this package knowing the difference.
type S3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 is the S3-family Adapter variant (S3 proper, GCS via S3-compat, R2 via
// custom endpoint). Bucket and key prefix are fixed at construction; further
// namespacing is layered on via WithPrefix.
type S3 struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 loads the default AWS config chain (env vars, shared config,
// instance profile) and returns an S3 adapter for bucket. endpoint, when
// non-empty, overrides the resolved endpoint -- how GCS/R2 targets are
// reached through the S3 API.
func NewS3(ctx context.Context, bucket, region, endpoint string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errs.Wrap("storage.s3.config", errs.StorageUnavailable)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})
	return &S3{client: client, bucket: bucket}, nil
}

func (s *S3) key(name string) string { return joinPrefix(s.prefix, name) }

func (s *S3) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.WrapKey("storage.s3.encode", key, errs.InvalidInput)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errs.WrapKey("storage.s3.put", key, errs.StorageUnavailable)
	}
	return nil
}

func (s *S3) getJSON(ctx context.Context, key string, v any) (bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errs.WrapKey("storage.s3.get", key, errs.StorageUnavailable)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return false, errs.WrapKey("storage.s3.read", key, errs.StorageUnavailable)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errs.WrapKey("storage.s3.decode", key, errs.StorageCorrupt)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if asNoSuchKey(err, &nf) {
		return true
	}
	var re *smithyhttp.ResponseError
	if asResponseError(err, &re) {
		return re.HTTPStatusCode() == 404
	}
	return false
}

// asNoSuchKey / asResponseError are thin errors.As wrappers kept as named
// functions so isNotFound reads linearly without repeating type params.
func asNoSuchKey(err error, target **types.NoSuchKey) bool {
	return errorsAs(err, target)
}

func asResponseError(err error, target **smithyhttp.ResponseError) bool {
	return errorsAs(err, target)
}

func (s *S3) delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil && !isNotFound(err) {
		return errs.WrapKey("storage.s3.delete", key, errs.StorageUnavailable)
	}
	return nil
}

func (s *S3) SaveNoun(ctx context.Context, id string, rec NounRecord) error {
	return s.putJSON(ctx, s.key("nouns/"+id+".json"), rec)
}

func (s *S3) GetNoun(ctx context.Context, id string) (*NounRecord, error) {
	var rec NounRecord
	ok, err := s.getJSON(ctx, s.key("nouns/"+id+".json"), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *S3) DeleteNoun(ctx context.Context, id string) error {
	return s.delete(ctx, s.key("nouns/"+id+".json"))
}

func (s *S3) SaveNounMetadata(ctx context.Context, id string, doc MetadataRecord) error {
	return s.putJSON(ctx, s.key("nouns-metadata/"+id+".json"), doc)
}

func (s *S3) GetNounMetadata(ctx context.Context, id string, opts ReadOpts) (*MetadataRecord, error) {
	var doc MetadataRecord
	ok, err := s.getJSON(ctx, s.key("nouns-metadata/"+id+".json"), &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &doc, nil
}

func (s *S3) DeleteNounMetadata(ctx context.Context, id string) error {
	return s.delete(ctx, s.key("nouns-metadata/"+id+".json"))
}

func (s *S3) SaveVerb(ctx context.Context, id string, rec VerbRecord) error {
	return s.putJSON(ctx, s.key("verbs/"+id+".json"), rec)
}

func (s *S3) GetVerb(ctx context.Context, id string) (*VerbRecord, error) {
	var rec VerbRecord
	ok, err := s.getJSON(ctx, s.key("verbs/"+id+".json"), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *S3) DeleteVerb(ctx context.Context, id string) error {
	return s.delete(ctx, s.key("verbs/"+id+".json"))
}

func (s *S3) SaveVerbMetadata(ctx context.Context, id string, doc MetadataRecord) error {
	return s.putJSON(ctx, s.key("verbs-metadata/"+id+".json"), doc)
}

func (s *S3) GetVerbMetadata(ctx context.Context, id string, opts ReadOpts) (*MetadataRecord, error) {
	var doc MetadataRecord
	ok, err := s.getJSON(ctx, s.key("verbs-metadata/"+id+".json"), &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &doc, nil
}

func (s *S3) DeleteVerbMetadata(ctx context.Context, id string) error {
	return s.delete(ctx, s.key("verbs-metadata/"+id+".json"))
}

func (s *S3) listPrefix(ctx context.Context, dir string) ([]string, error) {
	prefix := s.key(dir + "/")
	var ids []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errs.WrapKey("storage.s3.list", prefix, errs.StorageUnavailable)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(*obj.Key, prefix)
			name = strings.TrimSuffix(name, ".json")
			if name != "" {
				ids = append(ids, name)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return ids, nil
}

func (s *S3) ListNouns(ctx context.Context, p Page) (PageResult, error) {
	ids, err := s.listPrefix(ctx, "nouns")
	if err != nil {
		return PageResult{}, err
	}
	return paginate(ids, p), nil
}

func (s *S3) ListVerbsBySource(ctx context.Context, sourceID string, p Page) (PageResult, error) {
	return s.scanVerbsBy(ctx, func(r VerbRecord) bool { return r.SourceID == sourceID }, p)
}

func (s *S3) ListVerbsByTarget(ctx context.Context, targetID string, p Page) (PageResult, error) {
	return s.scanVerbsBy(ctx, func(r VerbRecord) bool { return r.TargetID == targetID }, p)
}

func (s *S3) scanVerbsBy(ctx context.Context, match func(VerbRecord) bool, p Page) (PageResult, error) {
	ids, err := s.listPrefix(ctx, "verbs")
	if err != nil {
		return PageResult{}, err
	}
	sort.Strings(ids)
	var matched []string
	for _, id := range ids {
		rec, err := s.GetVerb(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		if match(*rec) {
			matched = append(matched, id)
		}
	}
	return paginate(matched, p), nil
}

func (s *S3) ListVerbs(ctx context.Context, p Page) (PageResult, error) {
	ids, err := s.listPrefix(ctx, "verbs")
	if err != nil {
		return PageResult{}, err
	}
	return paginate(ids, p), nil
}

func (s *S3) SaveIndexBlob(ctx context.Context, name string, data []byte) error {
	key := s.key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{Bucket: &s.bucket, Key: &key, Body: bytes.NewReader(data)})
	if err != nil {
		return errs.WrapKey("storage.s3.put", key, errs.StorageUnavailable)
	}
	return nil
}

func (s *S3) LoadIndexBlob(ctx context.Context, name string) ([]byte, error) {
	key := s.key(name)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, errs.WrapKey("storage.s3.get", key, errs.StorageUnavailable)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.WrapKey("storage.s3.read", key, errs.StorageUnavailable)
	}
	return data, nil
}

func (s *S3) ListIndexBlobs(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := strings.TrimSuffix(s.key(prefix), "/") + "/"
	var names []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &listPrefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errs.WrapKey("storage.s3.list", listPrefix, errs.StorageUnavailable)
		}
		for _, obj := range out.Contents {
			names = append(names, stripPrefix(s.prefix, *obj.Key))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3) DeleteIndexBlob(ctx context.Context, name string) error {
	return s.delete(ctx, s.key(name))
}

func (s *S3) WithPrefix(p string) Adapter {
	return &S3{client: s.client, bucket: s.bucket, prefix: joinPrefix(s.prefix, p)}
}

func errorsAs[T error](err error, target *T) bool {
	for err != nil {
		if t, ok := err.(T); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
