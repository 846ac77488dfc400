package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/edvin/backhaul/internal/model"
)

// GCSAdapter talks to Google Cloud Storage buckets. Like S3, folders are key
// prefixes and rename is unsupported.
type GCSAdapter struct {
	client    *gcs.Client
	projectID string
}

func NewGCSAdapter() *GCSAdapter {
	return &GCSAdapter{}
}

func (a *GCSAdapter) Initialize(ctx context.Context, secret string) error {
	// The secret is a service-account key; project_id is read from it for
	// bucket listing.
	var sa struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal([]byte(secret), &sa); err != nil {
		return fmt.Errorf("parse gcs credentials: %w", err)
	}

	client, err := gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(secret)))
	if err != nil {
		return fmt.Errorf("create gcs client: %w", err)
	}

	a.client = client
	a.projectID = sa.ProjectID
	return nil
}

func (a *GCSAdapter) ListDestinations(ctx context.Context) ([]Destination, error) {
	if a.client == nil {
		return nil, ErrNotInitialized
	}

	var dests []Destination
	it := a.client.Buckets(ctx, a.projectID)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}
		dests = append(dests, Destination{ID: attrs.Name, Name: attrs.Name})
	}
	return dests, nil
}

func (a *GCSAdapter) ListFolders(ctx context.Context, destinationID, parentPath string) ([]Folder, error) {
	if a.client == nil {
		return nil, ErrNotInitialized
	}

	prefixes, err := a.listPrefixes(ctx, destinationID, parentPath)
	if err != nil {
		return nil, err
	}

	folders := make([]Folder, 0, len(prefixes))
	for _, p := range prefixes {
		folders = append(folders, Folder{ID: p, Name: path.Base(p), Path: p})
	}
	return folders, nil
}

func (a *GCSAdapter) CreateFolder(ctx context.Context, destinationID, name, parentPath string) (*Folder, error) {
	if a.client == nil {
		return nil, ErrNotInitialized
	}

	folderPath := path.Join(parentPath, name)
	w := a.client.Bucket(destinationID).Object(folderPath + "/").NewWriter(ctx)
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("create folder %q: %w", folderPath, err)
	}
	return &Folder{ID: folderPath, Name: name, Path: folderPath}, nil
}

func (a *GCSAdapter) RenameFolder(ctx context.Context, destinationID, folderPath, newName string) error {
	if a.client == nil {
		return ErrNotInitialized
	}
	return ErrNotSupported
}

func (a *GCSAdapter) DeleteFolder(ctx context.Context, destinationID, folderPath string) error {
	if a.client == nil {
		return ErrNotInitialized
	}

	bucket := a.client.Bucket(destinationID)
	it := bucket.Objects(ctx, &gcs.Query{Prefix: normalizePrefix(folderPath)})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("list objects under %q: %w", folderPath, err)
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil {
			return fmt.Errorf("delete object %q: %w", attrs.Name, err)
		}
	}
	return nil
}

func (a *GCSAdapter) UploadFile(ctx context.Context, params UploadParams) (*UploadResult, error) {
	if a.client == nil {
		return nil, ErrNotInitialized
	}

	key := path.Join(params.FolderPath, params.FileName)
	w := a.client.Bucket(params.DestinationID).Object(key).NewWriter(ctx)
	if params.MimeType != "" {
		w.ContentType = params.MimeType
	}

	body := newProgressReader(params.Body, params.OnProgress)
	if _, err := io.Copy(w, body); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return nil, fmt.Errorf("closing writer: %q, while: %w", closeErr, err)
		}
		return nil, fmt.Errorf("upload %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing writer for %q: %w", key, err)
	}

	return &UploadResult{
		FileID:   key,
		FileName: params.FileName,
		Size:     params.Size,
		Path:     key,
	}, nil
}

func (a *GCSAdapter) ListBackups(ctx context.Context, destinationID, basePath string) ([]model.BackupVersion, error) {
	if a.client == nil {
		return nil, ErrNotInitialized
	}

	prefixes, err := a.listPrefixes(ctx, destinationID, basePath)
	if err != nil {
		return nil, err
	}

	versions := make([]model.BackupVersion, 0, len(prefixes))
	for _, folderPath := range prefixes {
		version := model.BackupVersion{Name: path.Base(folderPath), Path: folderPath}

		// Prefix listings carry no timestamps; read the first object below
		// the prefix for the creation time.
		it := a.client.Bucket(destinationID).Objects(ctx, &gcs.Query{Prefix: folderPath + "/"})
		attrs, err := it.Next()
		if err != nil && err != iterator.Done {
			return nil, fmt.Errorf("describe backup folder %q: %w", folderPath, err)
		}
		if attrs != nil {
			version.CreatedTime = attrs.Created
			version.Size = attrs.Size
		}
		versions = append(versions, version)
	}
	return versions, nil
}

func (a *GCSAdapter) ValidateCredentials(ctx context.Context) bool {
	if a.client == nil {
		return false
	}
	it := a.client.Buckets(ctx, a.projectID)
	_, err := it.Next()
	return err == nil || err == iterator.Done
}

// listPrefixes returns the immediate sub-folder paths (no trailing slash)
// under parentPath.
func (a *GCSAdapter) listPrefixes(ctx context.Context, bucket, parentPath string) ([]string, error) {
	var prefixes []string
	it := a.client.Bucket(bucket).Objects(ctx, &gcs.Query{
		Prefix:    normalizePrefix(parentPath),
		Delimiter: "/",
	})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list prefixes under %q: %w", parentPath, err)
		}
		if attrs.Prefix != "" {
			prefixes = append(prefixes, strings.TrimSuffix(attrs.Prefix, "/"))
		}
	}
	return prefixes, nil
}
