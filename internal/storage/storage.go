// Package storage abstracts one cloud backend behind a uniform adapter
// contract. Object stores (S3-compatible, GCS) treat folders as key prefixes;
// hierarchical drives (Google Drive) materialize real folders and additionally
// implement FolderPrebuilder.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/edvin/backhaul/internal/model"
)

var (
	// ErrNotInitialized is returned when an adapter method is called before
	// Initialize has bound credentials.
	ErrNotInitialized = errors.New("storage: adapter not initialized")

	// ErrNotSupported is returned for operations a backend has no native
	// equivalent for, e.g. rename on an object store.
	ErrNotSupported = errors.New("storage: operation not supported")
)

// Destination is a bucket, drive or shared drive the adapter can write to.
type Destination struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Folder is one remote folder (or key prefix) below a destination.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// UploadParams describes one file upload. FileName may encode nested
// subdirectories ("sub/dir/file.ext"); the adapter materializes intermediate
// folders as needed. OnProgress, if set, receives cumulative bytes written
// for this file.
type UploadParams struct {
	DestinationID string
	FolderPath    string
	FileName      string
	Body          io.Reader
	Size          int64
	MimeType      string
	OnProgress    func(bytes int64)
}

// UploadResult describes a completed upload.
type UploadResult struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
	Path     string `json:"path"`
}

// Adapter is the capability contract every backend implements. Initialize
// must be called before any other method; everything else returns
// ErrNotInitialized otherwise.
type Adapter interface {
	// Initialize binds provider-specific credentials from the decrypted
	// secret blob.
	Initialize(ctx context.Context, secret string) error

	ListDestinations(ctx context.Context) ([]Destination, error)
	ListFolders(ctx context.Context, destinationID, parentPath string) ([]Folder, error)
	CreateFolder(ctx context.Context, destinationID, name, parentPath string) (*Folder, error)
	RenameFolder(ctx context.Context, destinationID, path, newName string) error
	// DeleteFolder removes a folder and everything below it.
	DeleteFolder(ctx context.Context, destinationID, path string) error

	UploadFile(ctx context.Context, params UploadParams) (*UploadResult, error)

	// ListBackups returns the existing backup folders under basePath, in no
	// guaranteed order.
	ListBackups(ctx context.Context, destinationID, basePath string) ([]model.BackupVersion, error)

	// ValidateCredentials reports whether the bound credentials work. It
	// never returns an error; failures mean false.
	ValidateCredentials(ctx context.Context) bool
}

// FolderPrebuilder is an optional capability for backends whose folder
// creation is neither idempotent nor cheap. It pre-creates every intermediate
// directory implied by the batch of relative paths before parallel upload
// begins, so concurrent uploads never race on folder creation.
type FolderPrebuilder interface {
	PreBuildFolderStructure(ctx context.Context, destinationID, rootFolderID, rootFolderName string, relativePaths []string) error
}

// Provider identifiers accepted by New.
const (
	ProviderS3     = "s3"
	ProviderR2     = "r2"
	ProviderSpaces = "spaces"
	ProviderGCS    = "gcs"
	ProviderGDrive = "gdrive"
)

// New returns an uninitialized adapter for the given provider.
func New(provider string) (Adapter, error) {
	switch provider {
	case ProviderS3, ProviderR2, ProviderSpaces:
		return NewS3Adapter(), nil
	case ProviderGCS:
		return NewGCSAdapter(), nil
	case ProviderGDrive:
		return NewDriveAdapter(), nil
	}
	return nil, fmt.Errorf("storage: unknown provider %q", provider)
}
