package executor

import (
	"context"
	"io"
	"path"
	"sync"
	"time"

	"github.com/edvin/backhaul/internal/model"
	"github.com/edvin/backhaul/internal/storage"
)

// fakeAdapter is an in-memory storage.Adapter for executor tests.
type fakeAdapter struct {
	mu        sync.Mutex
	uploads   map[string]int64 // file name -> size
	deleted   []string
	folders   []string
	prebuilt  []string
	preBuilds int

	failUploads map[string]error
	versions    []model.BackupVersion
	listErr     error
	deleteErr   map[string]error
	uploadDelay time.Duration

	onUploadStart func()
	onUploadEnd   func()
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		uploads:     make(map[string]int64),
		failUploads: make(map[string]error),
		deleteErr:   make(map[string]error),
	}
}

func (f *fakeAdapter) Initialize(ctx context.Context, secret string) error { return nil }

func (f *fakeAdapter) ListDestinations(ctx context.Context) ([]storage.Destination, error) {
	return []storage.Destination{{ID: "bucket", Name: "bucket"}}, nil
}

func (f *fakeAdapter) ListFolders(ctx context.Context, destinationID, parentPath string) ([]storage.Folder, error) {
	return nil, nil
}

func (f *fakeAdapter) CreateFolder(ctx context.Context, destinationID, name, parentPath string) (*storage.Folder, error) {
	folderPath := path.Join(parentPath, name)
	f.mu.Lock()
	f.folders = append(f.folders, folderPath)
	f.mu.Unlock()
	return &storage.Folder{ID: "folder-" + name, Name: name, Path: folderPath}, nil
}

func (f *fakeAdapter) RenameFolder(ctx context.Context, destinationID, folderPath, newName string) error {
	return storage.ErrNotSupported
}

func (f *fakeAdapter) DeleteFolder(ctx context.Context, destinationID, folderPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErr[folderPath]; ok {
		return err
	}
	f.deleted = append(f.deleted, folderPath)
	return nil
}

func (f *fakeAdapter) UploadFile(ctx context.Context, params storage.UploadParams) (*storage.UploadResult, error) {
	if f.onUploadStart != nil {
		f.onUploadStart()
	}
	if f.onUploadEnd != nil {
		defer f.onUploadEnd()
	}
	if f.uploadDelay > 0 {
		time.Sleep(f.uploadDelay)
	}

	f.mu.Lock()
	failErr := f.failUploads[params.FileName]
	f.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}

	n, err := io.Copy(io.Discard, params.Body)
	if err != nil {
		return nil, err
	}
	if params.OnProgress != nil {
		params.OnProgress(n)
	}

	f.mu.Lock()
	f.uploads[params.FileName] = n
	f.mu.Unlock()

	return &storage.UploadResult{
		FileID:   params.FileName,
		FileName: params.FileName,
		Size:     n,
		Path:     path.Join(params.FolderPath, params.FileName),
	}, nil
}

func (f *fakeAdapter) ListBackups(ctx context.Context, destinationID, basePath string) ([]model.BackupVersion, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.versions, nil
}

func (f *fakeAdapter) ValidateCredentials(ctx context.Context) bool { return true }

// fakePrebuildAdapter adds the FolderPrebuilder capability.
type fakePrebuildAdapter struct {
	*fakeAdapter
}

func (f *fakePrebuildAdapter) PreBuildFolderStructure(ctx context.Context, destinationID, rootFolderID, rootFolderName string, relativePaths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preBuilds++
	f.prebuilt = append(f.prebuilt, relativePaths...)
	return nil
}

// fakeResolver serves credential and destination lookups from maps.
type fakeResolver struct {
	credentials  map[string]*model.StorageCredential
	destinations map[string]*model.StorageDestination
}

func (r *fakeResolver) GetCredential(ctx context.Context, id string) (*model.StorageCredential, error) {
	if c, ok := r.credentials[id]; ok {
		return c, nil
	}
	return nil, ErrCredentialNotFound
}

func (r *fakeResolver) GetDestination(ctx context.Context, id string) (*model.StorageDestination, error) {
	if d, ok := r.destinations[id]; ok {
		return d, nil
	}
	return nil, ErrDestinationNotFound
}
