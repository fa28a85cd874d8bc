package regen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"marketplace/api/internal/gitrepo"
)

// Artifact is a generated site file.
type Artifact struct {
	Name        string
	Data        []byte
	ContentType string
}

// Publisher delivers artifacts somewhere the public site reads them. The
// returned ref identifies what was published (a commit, an ETag) and may be
// empty.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, artifacts []Artifact, message string) (ref string, err error)
}

// GitPublisher commits artifacts to the site repository and pushes them.
type GitPublisher struct {
	repo *gitrepo.Service
}

func NewGitPublisher(repo *gitrepo.Service) *GitPublisher {
	return &GitPublisher{repo: repo}
}

func (p *GitPublisher) Name() string { return "git" }

func (p *GitPublisher) Publish(ctx context.Context, artifacts []Artifact, message string) (string, error) {
	files := make([]gitrepo.File, 0, len(artifacts))
	for _, a := range artifacts {
		files = append(files, gitrepo.File{Path: a.Name, Data: a.Data})
	}
	commit, changed, err := p.repo.Publish(ctx, files, message)
	if err != nil {
		return "", err
	}
	if changed {
		if err := p.repo.Push(ctx); err != nil {
			return commit.Hash, err
		}
	}
	return commit.Hash, nil
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectPublisher uploads artifacts to an S3-compatible bucket.
type ObjectPublisher struct {
	client objectPutter
	bucket string
	prefix string
}

type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// NewObjectPublisher connects to the bucket and creates it if missing.
func NewObjectPublisher(ctx context.Context, cfg ObjectConfig) (*ObjectPublisher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &ObjectPublisher{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (p *ObjectPublisher) Name() string { return "object" }

func (p *ObjectPublisher) Publish(ctx context.Context, artifacts []Artifact, _ string) (string, error) {
	var etag string
	for _, a := range artifacts {
		key := path.Join(p.prefix, a.Name)
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		info, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(a.Data), int64(len(a.Data)),
			minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			return etag, fmt.Errorf("upload %s: %w", key, err)
		}
		etag = info.ETag
	}
	return etag, nil
}
