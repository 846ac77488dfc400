package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/edvin/backhaul/internal/model"
)

// s3Credentials is the decrypted secret blob for S3-compatible providers.
// Endpoint is set for R2 and Spaces; empty means AWS proper.
type s3Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint,omitempty"`
	ForcePathStyle  bool   `json:"force_path_style,omitempty"`
}

// S3Adapter talks to any S3-compatible object store (AWS, R2, Spaces).
// Folders are key prefixes; rename has no native equivalent.
type S3Adapter struct {
	client *s3.Client
}

func NewS3Adapter() *S3Adapter {
	return &S3Adapter{}
}

func (a *S3Adapter) Initialize(ctx context.Context, secret string) error {
	var creds s3Credentials
	if err := json.Unmarshal([]byte(secret), &creds); err != nil {
		return fmt.Errorf("parse s3 credentials: %w", err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return fmt.Errorf("s3 credentials missing access key or secret")
	}

	region := creds.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		UsePathStyle: creds.ForcePathStyle,
	}
	if creds.Endpoint != "" {
		opts.BaseEndpoint = aws.String(creds.Endpoint)
	}

	a.client = s3.New(opts)
	return nil
}

func (a *S3Adapter) ListDestinations(ctx context.Context) ([]Destination, error) {
	if a.client == nil {
		return nil, ErrNotInitialized
	}

	out, err := a.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	dests := make([]Destination, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		dests = append(dests, Destination{ID: aws.ToString(b.Name), Name: aws.ToString(b.Name)})
	}
	return dests, nil
}

func (a *S3Adapter) ListFolders(ctx context.Context, destinationID, parentPath string) ([]Folder, error) {
	if a.client == nil {
		return nil, ErrNotInitialized
	}

	prefix := normalizePrefix(parentPath)
	var folders []Folder

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(destinationID),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list folders under %q: %w", parentPath, err)
		}
		for _, cp := range page.CommonPrefixes {
			p := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			folders = append(folders, Folder{
				ID:   p,
				Name: path.Base(p),
				Path: p,
			})
		}
	}
	return folders, nil
}

func (a *S3Adapter) CreateFolder(ctx context.Context, destinationID, name, parentPath string) (*Folder, error) {
	if a.client == nil {
		return nil, ErrNotInitialized
	}

	// Folders are implicit prefixes. A zero-byte marker object makes the
	// folder visible to listings before any file lands in it.
	folderPath := path.Join(parentPath, name)
	key := folderPath + "/"
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(destinationID),
		Key:           aws.String(key),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return nil, fmt.Errorf("create folder %q: %w", folderPath, err)
	}

	return &Folder{ID: folderPath, Name: name, Path: folderPath}, nil
}

// RenameFolder is not supported on object stores; there is no server-side
// prefix rename.
func (a *S3Adapter) RenameFolder(ctx context.Context, destinationID, folderPath, newName string) error {
	if a.client == nil {
		return ErrNotInitialized
	}
	return ErrNotSupported
}

func (a *S3Adapter) DeleteFolder(ctx context.Context, destinationID, folderPath string) error {
	if a.client == nil {
		return ErrNotInitialized
	}

	prefix := normalizePrefix(folderPath)
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(destinationID),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects under %q: %w", folderPath, err)
		}
		if len(page.Contents) == 0 {
			break
		}
		objects := make([]s3types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			objects[i] = s3types.ObjectIdentifier{Key: obj.Key}
		}
		_, err = a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(destinationID),
			Delete: &s3types.Delete{Objects: objects},
		})
		if err != nil {
			return fmt.Errorf("delete objects under %q: %w", folderPath, err)
		}
	}
	return nil
}

func (a *S3Adapter) UploadFile(ctx context.Context, params UploadParams) (*UploadResult, error) {
	if a.client == nil {
		return nil, ErrNotInitialized
	}

	key := path.Join(params.FolderPath, params.FileName)
	body := newProgressReader(params.Body, params.OnProgress)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(params.DestinationID),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(params.Size),
	}
	if params.MimeType != "" {
		input.ContentType = aws.String(params.MimeType)
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("upload %q: %w", key, err)
	}

	return &UploadResult{
		FileID:   key,
		FileName: params.FileName,
		Size:     params.Size,
		Path:     key,
	}, nil
}

func (a *S3Adapter) ListBackups(ctx context.Context, destinationID, basePath string) ([]model.BackupVersion, error) {
	if a.client == nil {
		return nil, ErrNotInitialized
	}

	prefix := normalizePrefix(basePath)
	var versions []model.BackupVersion

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(destinationID),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backups under %q: %w", basePath, err)
		}
		for _, cp := range page.CommonPrefixes {
			folderPrefix := aws.ToString(cp.Prefix)
			version, err := a.describeBackupFolder(ctx, destinationID, folderPrefix)
			if err != nil {
				return nil, err
			}
			versions = append(versions, version)
		}
	}
	return versions, nil
}

// describeBackupFolder derives folder metadata from the oldest-listed object
// under the prefix. Object stores have no folder mtime, so the first object's
// LastModified stands in for the backup's creation time.
func (a *S3Adapter) describeBackupFolder(ctx context.Context, bucket, prefix string) (model.BackupVersion, error) {
	folderPath := strings.TrimSuffix(prefix, "/")
	version := model.BackupVersion{
		Name: path.Base(folderPath),
		Path: folderPath,
	}

	out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return version, fmt.Errorf("describe backup folder %q: %w", folderPath, err)
	}
	if len(out.Contents) > 0 {
		obj := out.Contents[0]
		if obj.LastModified != nil {
			version.CreatedTime = *obj.LastModified
		}
		version.Size = aws.ToInt64(obj.Size)
	}
	return version, nil
}

func (a *S3Adapter) ValidateCredentials(ctx context.Context) bool {
	if a.client == nil {
		return false
	}
	_, err := a.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	return err == nil
}

// normalizePrefix turns a folder path into a trailing-slash key prefix.
// An empty path means the bucket root, which is an empty prefix.
func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
