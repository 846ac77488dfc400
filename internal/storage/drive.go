package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/edvin/backhaul/internal/model"
)

const driveFolderMimeType = "application/vnd.google-apps.folder"

// folderKey identifies one resolved remote folder. A struct key instead of a
// concatenated string so distinct (destination, path) pairs can never collide.
type folderKey struct {
	destinationID string
	path          string
}

// DriveAdapter talks to Google Drive (My Drive and shared drives). Folders
// are real objects addressed by ID, so the adapter keeps a path-to-ID cache
// and implements FolderPrebuilder: creating a folder on Drive is neither
// idempotent nor cheap, and concurrent uploads racing on folder creation
// would produce duplicate folders.
type DriveAdapter struct {
	svc *drive.Service

	mu        sync.Mutex
	folderIDs map[folderKey]string
}

func NewDriveAdapter() *DriveAdapter {
	return &DriveAdapter{folderIDs: make(map[folderKey]string)}
}

func (a *DriveAdapter) Initialize(ctx context.Context, secret string) error {
	svc, err := drive.NewService(ctx,
		option.WithCredentialsJSON([]byte(secret)),
		option.WithScopes(drive.DriveScope),
	)
	if err != nil {
		return fmt.Errorf("create drive service: %w", err)
	}
	a.svc = svc
	return nil
}

func (a *DriveAdapter) ListDestinations(ctx context.Context) ([]Destination, error) {
	if a.svc == nil {
		return nil, ErrNotInitialized
	}

	dests := []Destination{{ID: "root", Name: "My Drive"}}

	call := a.svc.Drives.List().PageSize(100)
	if err := call.Pages(ctx, func(page *drive.DriveList) error {
		for _, d := range page.Drives {
			dests = append(dests, Destination{ID: d.Id, Name: d.Name})
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("list shared drives: %w", err)
	}
	return dests, nil
}

func (a *DriveAdapter) ListFolders(ctx context.Context, destinationID, parentPath string) ([]Folder, error) {
	if a.svc == nil {
		return nil, ErrNotInitialized
	}

	parentID, err := a.resolveFolder(ctx, destinationID, parentPath, false)
	if err != nil {
		return nil, err
	}

	var folders []Folder
	query := fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false", parentID, driveFolderMimeType)
	call := a.svc.Files.List().Q(query).Fields("files(id, name)").
		SupportsAllDrives(true).IncludeItemsFromAllDrives(true)
	if err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			folders = append(folders, Folder{ID: f.Id, Name: f.Name, Path: path.Join(parentPath, f.Name)})
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("list folders under %q: %w", parentPath, err)
	}
	return folders, nil
}

func (a *DriveAdapter) CreateFolder(ctx context.Context, destinationID, name, parentPath string) (*Folder, error) {
	if a.svc == nil {
		return nil, ErrNotInitialized
	}

	parentID, err := a.resolveFolder(ctx, destinationID, parentPath, true)
	if err != nil {
		return nil, err
	}

	id, err := a.createChildFolder(ctx, parentID, name)
	if err != nil {
		return nil, err
	}

	folderPath := path.Join(parentPath, name)
	a.cacheFolder(destinationID, folderPath, id)
	return &Folder{ID: id, Name: name, Path: folderPath}, nil
}

func (a *DriveAdapter) RenameFolder(ctx context.Context, destinationID, folderPath, newName string) error {
	if a.svc == nil {
		return ErrNotInitialized
	}

	id, err := a.resolveFolder(ctx, destinationID, folderPath, false)
	if err != nil {
		return err
	}

	_, err = a.svc.Files.Update(id, &drive.File{Name: newName}).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("rename folder %q: %w", folderPath, err)
	}

	a.mu.Lock()
	delete(a.folderIDs, folderKey{destinationID, folderPath})
	a.mu.Unlock()
	return nil
}

func (a *DriveAdapter) DeleteFolder(ctx context.Context, destinationID, folderPath string) error {
	if a.svc == nil {
		return ErrNotInitialized
	}

	id, err := a.resolveFolder(ctx, destinationID, folderPath, false)
	if err != nil {
		return err
	}

	// Drive deletes are recursive: removing the folder removes its contents.
	if err := a.svc.Files.Delete(id).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete folder %q: %w", folderPath, err)
	}

	a.mu.Lock()
	for key := range a.folderIDs {
		if key.destinationID == destinationID && (key.path == folderPath || strings.HasPrefix(key.path, folderPath+"/")) {
			delete(a.folderIDs, key)
		}
	}
	a.mu.Unlock()
	return nil
}

func (a *DriveAdapter) UploadFile(ctx context.Context, params UploadParams) (*UploadResult, error) {
	if a.svc == nil {
		return nil, ErrNotInitialized
	}

	// FileName may carry subdirectories; resolve the deepest folder first.
	dir, base := path.Split(params.FileName)
	folderPath := path.Join(params.FolderPath, strings.TrimSuffix(dir, "/"))
	parentID, err := a.resolveFolder(ctx, params.DestinationID, folderPath, true)
	if err != nil {
		return nil, err
	}

	meta := &drive.File{
		Name:    base,
		Parents: []string{parentID},
	}

	body := newProgressReader(params.Body, params.OnProgress)
	call := a.svc.Files.Create(meta).SupportsAllDrives(true).Context(ctx)
	if params.MimeType != "" {
		call = call.Media(body, googleapi.ContentType(params.MimeType))
	} else {
		call = call.Media(body)
	}

	f, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("upload %q: %w", params.FileName, err)
	}

	return &UploadResult{
		FileID:   f.Id,
		FileName: params.FileName,
		Size:     params.Size,
		Path:     path.Join(params.FolderPath, params.FileName),
	}, nil
}

func (a *DriveAdapter) ListBackups(ctx context.Context, destinationID, basePath string) ([]model.BackupVersion, error) {
	if a.svc == nil {
		return nil, ErrNotInitialized
	}

	parentID, err := a.resolveFolder(ctx, destinationID, basePath, false)
	if err != nil {
		return nil, err
	}

	var versions []model.BackupVersion
	query := fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false", parentID, driveFolderMimeType)
	call := a.svc.Files.List().Q(query).Fields("files(id, name, createdTime)").
		SupportsAllDrives(true).IncludeItemsFromAllDrives(true)
	if err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			created, _ := time.Parse(time.RFC3339, f.CreatedTime)
			versions = append(versions, model.BackupVersion{
				Name:        f.Name,
				Path:        path.Join(basePath, f.Name),
				CreatedTime: created,
			})
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("list backups under %q: %w", basePath, err)
	}
	return versions, nil
}

func (a *DriveAdapter) ValidateCredentials(ctx context.Context) bool {
	if a.svc == nil {
		return false
	}
	_, err := a.svc.About.Get().Fields("user").Context(ctx).Do()
	return err == nil
}

// PreBuildFolderStructure creates every intermediate directory implied by the
// relative paths before parallel upload begins. Paths are processed shortest
// first so parents always exist before their children, and every created
// folder lands in the cache keyed by (destination, rootFolderName, path).
func (a *DriveAdapter) PreBuildFolderStructure(ctx context.Context, destinationID, rootFolderID, rootFolderName string, relativePaths []string) error {
	if a.svc == nil {
		return ErrNotInitialized
	}

	a.cacheFolder(destinationID, rootFolderName, rootFolderID)

	seen := make(map[string]struct{})
	var dirs []string
	for _, rel := range relativePaths {
		dir := path.Dir(rel)
		for dir != "." && dir != "/" {
			if _, ok := seen[dir]; !ok {
				seen[dir] = struct{}{}
				dirs = append(dirs, dir)
			}
			dir = path.Dir(dir)
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i], "/"), strings.Count(dirs[j], "/")
		if di != dj {
			return di < dj
		}
		return dirs[i] < dirs[j]
	})

	for _, dir := range dirs {
		folderPath := path.Join(rootFolderName, dir)
		if _, err := a.resolveFolder(ctx, destinationID, folderPath, true); err != nil {
			return fmt.Errorf("pre-build folder %q: %w", folderPath, err)
		}
	}
	return nil
}

// resolveFolder maps a folder path to its Drive file ID, walking segment by
// segment from the destination root. With create set, missing segments are
// created. The mutex also serializes folder creation so concurrent uploads
// cannot create duplicate folders.
func (a *DriveAdapter) resolveFolder(ctx context.Context, destinationID, folderPath string, create bool) (string, error) {
	folderPath = strings.Trim(folderPath, "/")
	if folderPath == "" || folderPath == "." {
		return a.rootID(destinationID), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.folderIDs[folderKey{destinationID, folderPath}]; ok {
		return id, nil
	}

	parentID := a.rootID(destinationID)
	var walked []string
	for _, segment := range strings.Split(folderPath, "/") {
		walked = append(walked, segment)
		current := strings.Join(walked, "/")

		if id, ok := a.folderIDs[folderKey{destinationID, current}]; ok {
			parentID = id
			continue
		}

		id, err := a.findChildFolder(ctx, parentID, segment)
		if err != nil {
			return "", err
		}
		if id == "" {
			if !create {
				return "", fmt.Errorf("folder %q not found", current)
			}
			id, err = a.createChildFolder(ctx, parentID, segment)
			if err != nil {
				return "", err
			}
		}

		a.folderIDs[folderKey{destinationID, current}] = id
		parentID = id
	}
	return parentID, nil
}

func (a *DriveAdapter) rootID(destinationID string) string {
	if destinationID == "" {
		return "root"
	}
	return destinationID
}

func (a *DriveAdapter) findChildFolder(ctx context.Context, parentID, name string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		parentID, strings.ReplaceAll(name, "'", `\'`), driveFolderMimeType)
	out, err := a.svc.Files.List().Q(query).Fields("files(id)").PageSize(1).
		SupportsAllDrives(true).IncludeItemsFromAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("find folder %q: %w", name, err)
	}
	if len(out.Files) == 0 {
		return "", nil
	}
	return out.Files[0].Id, nil
}

func (a *DriveAdapter) createChildFolder(ctx context.Context, parentID, name string) (string, error) {
	f, err := a.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: driveFolderMimeType,
		Parents:  []string{parentID},
	}).SupportsAllDrives(true).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	return f.Id, nil
}

func (a *DriveAdapter) cacheFolder(destinationID, folderPath, id string) {
	a.mu.Lock()
	a.folderIDs[folderKey{destinationID, strings.Trim(folderPath, "/")}] = id
	a.mu.Unlock()
}
