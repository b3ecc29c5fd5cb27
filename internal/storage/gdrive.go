package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// GDrive implements the Storage interface on Google Drive. Objects are Drive
// files whose name is the storage key, optionally parented to one folder so
// several deployments can share an account.
type GDrive struct {
	drive    *drive.Service
	folderID string
}

// NewServiceWithToken creates a Drive-backed store using an OAuth2 token
func NewServiceWithToken(ctx context.Context, accessToken, folderID string) (*GDrive, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}
	tokenSource := oauth2.StaticTokenSource(token)

	service, err := drive.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service with token: %w", err)
	}

	slog.Info("Google Drive storage initialized", "folder_id", folderID)
	return &GDrive{drive: service, folderID: folderID}, nil
}

// NewServiceWithClient wraps an existing Drive service, used by tests
func NewServiceWithClient(client *drive.Service, folderID string) *GDrive {
	return &GDrive{drive: client, folderID: folderID}
}

func (s *GDrive) Provider() string { return "gdrive" }

// findByKey returns the Drive file whose name equals the key, or nil.
func (s *GDrive) findByKey(key string) (*drive.File, error) {
	escaped := strings.ReplaceAll(key, `'`, `\'`)
	query := fmt.Sprintf("name = '%s' and trashed = false", escaped)
	if s.folderID != "" {
		query += fmt.Sprintf(" and '%s' in parents", s.folderID)
	}

	result, err := s.drive.Files.List().Q(query).
		Fields("files(id, name, modifiedTime)").PageSize(1).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	if len(result.Files) == 0 {
		return nil, nil
	}
	return result.Files[0], nil
}

func (s *GDrive) UploadFile(ctx context.Context, localPath, key, mimeType string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrUploadFailed, localPath, err)
	}
	defer file.Close()

	return s.uploadReader(key, mimeType, file)
}

func (s *GDrive) UploadBytes(ctx context.Context, data []byte, key, mimeType string) (string, error) {
	return s.uploadReader(key, mimeType, strings.NewReader(string(data)))
}

func (s *GDrive) uploadReader(key, mimeType string, reader io.Reader) (string, error) {
	existing, err := s.findByKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	var created *drive.File
	if existing != nil {
		// Overwrite content, keep id so previously shared URLs stay valid
		created, err = s.drive.Files.Update(existing.Id, &drive.File{}).
			Media(reader).Fields("id").Do()
	} else {
		meta := &drive.File{Name: key}
		if s.folderID != "" {
			meta.Parents = []string{s.folderID}
		}
		created, err = s.drive.Files.Create(meta).Media(reader).Fields("id").Do()
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUploadFailed, key, err)
	}

	slog.Info("File uploaded successfully", "key", key, "id", created.Id)

	if err := s.setFilePermissions(created.Id, key); err != nil {
		return "", fmt.Errorf("%w: set permissions: %w", ErrUploadFailed, err)
	}

	return downloadURLForID(created.Id), nil
}

// setFilePermissions makes the file readable by anyone with the link
func (s *GDrive) setFilePermissions(fileID, key string) error {
	permission := &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}

	slog.Info("Setting permissions", "key", key, "id", fileID)
	_, err := s.drive.Permissions.Create(fileID, permission).Do()
	return err
}

func (s *GDrive) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	file, err := s.findByKey(key)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("file not found: %s", key)
	}

	resp, err := s.drive.Files.Get(file.Id).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", key, err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}

	return content, nil
}

func (s *GDrive) DownloadFileTo(ctx context.Context, key, localPath string) error {
	content, err := s.DownloadFile(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create target dir: %w", err)
	}
	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return nil
}

func (s *GDrive) FileExists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("storage key is empty")
	}
	file, err := s.findByKey(key)
	if err != nil {
		return false, err
	}
	return file != nil, nil
}

func (s *GDrive) DeleteFile(ctx context.Context, key string) error {
	file, err := s.findByKey(key)
	if err != nil {
		return err
	}
	if file == nil {
		return nil
	}

	if err := s.drive.Files.Delete(file.Id).Do(); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", key, err)
	}
	return nil
}

func (s *GDrive) DeletePrefix(ctx context.Context, prefix string) error {
	escaped := strings.ReplaceAll(prefix, `'`, `\'`)
	query := fmt.Sprintf("name contains '%s' and trashed = false", escaped)
	if s.folderID != "" {
		query += fmt.Sprintf(" and '%s' in parents", s.folderID)
	}

	result, err := s.drive.Files.List().Q(query).Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("failed to list files under %s: %w", prefix, err)
	}

	for _, file := range result.Files {
		// "contains" matches substrings anywhere; keep true prefixes only
		if !strings.HasPrefix(file.Name, prefix) {
			continue
		}
		if err := s.drive.Files.Delete(file.Id).Do(); err != nil {
			return fmt.Errorf("failed to delete file %s: %w", file.Name, err)
		}
	}
	return nil
}

func (s *GDrive) GenerateDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	file, err := s.findByKey(key)
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", fmt.Errorf("file not found: %s", key)
	}
	return downloadURLForID(file.Id), nil
}

// downloadURLForID converts a Drive file ID to a direct download URL
func downloadURLForID(driveID string) string {
	return fmt.Sprintf("https://drive.usercontent.google.com/download?id=%s&export=download&authuser=0&confirm=t", driveID)
}
