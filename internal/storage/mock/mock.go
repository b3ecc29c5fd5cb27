package mock

import (
	"context"
	"sync"
	"time"
)

// MockStorage is a test implementation of the Storage interface that allows
// complete control over method return values for unit testing.
// Each method can be configured to return specific values or errors as needed.
type MockStorage struct {
	mu sync.Mutex

	// Provider mock configuration
	ProviderName string

	// UploadFile mock configuration
	UploadFileFunc  func(ctx context.Context, localPath, key, mimeType string) (string, error)
	UploadFileURI   string
	UploadFileError error

	// UploadBytes mock configuration
	UploadBytesFunc  func(ctx context.Context, data []byte, key, mimeType string) (string, error)
	UploadBytesURI   string
	UploadBytesError error

	// DownloadFile mock configuration
	DownloadFileFunc    func(ctx context.Context, key string) ([]byte, error)
	DownloadFileContent []byte
	DownloadFileError   error

	// DownloadFileTo mock configuration
	DownloadFileToFunc  func(ctx context.Context, key, localPath string) error
	DownloadFileToError error

	// FileExists mock configuration
	FileExistsFunc   func(ctx context.Context, key string) (bool, error)
	FileExistsResult bool
	FileExistsError  error

	// DeleteFile mock configuration
	DeleteFileFunc  func(ctx context.Context, key string) error
	DeleteFileError error

	// DeletePrefix mock configuration
	DeletePrefixFunc  func(ctx context.Context, prefix string) error
	DeletePrefixError error

	// GenerateDownloadURL mock configuration
	GenerateDownloadURLFunc  func(ctx context.Context, key string, expires time.Duration) (string, error)
	GenerateDownloadURLValue string
	GenerateDownloadURLError error

	// Call tracking for verification
	UploadFileCalls          []UploadFileCall
	UploadBytesCalls         []UploadBytesCall
	DownloadFileCalls        []string
	DownloadFileToCalls      []DownloadFileToCall
	FileExistsCalls          []string
	DeleteFileCalls          []string
	DeletePrefixCalls        []string
	GenerateDownloadURLCalls []string
}

// Call tracking structs
type UploadFileCall struct {
	LocalPath string
	Key       string
	MimeType  string
}

type UploadBytesCall struct {
	Data     []byte
	Key      string
	MimeType string
}

type DownloadFileToCall struct {
	Key       string
	LocalPath string
}

// NewMockStorage creates a new MockStorage with reasonable defaults.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		ProviderName:             "mock",
		UploadFileCalls:          make([]UploadFileCall, 0),
		UploadBytesCalls:         make([]UploadBytesCall, 0),
		DownloadFileCalls:        make([]string, 0),
		DownloadFileToCalls:      make([]DownloadFileToCall, 0),
		FileExistsCalls:          make([]string, 0),
		DeleteFileCalls:          make([]string, 0),
		DeletePrefixCalls:        make([]string, 0),
		GenerateDownloadURLCalls: make([]string, 0),
	}
}

// Provider implements Storage interface
func (m *MockStorage) Provider() string {
	return m.ProviderName
}

// UploadFile implements Storage interface
func (m *MockStorage) UploadFile(ctx context.Context, localPath, key, mimeType string) (string, error) {
	m.mu.Lock()
	m.UploadFileCalls = append(m.UploadFileCalls, UploadFileCall{
		LocalPath: localPath,
		Key:       key,
		MimeType:  mimeType,
	})
	m.mu.Unlock()
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, localPath, key, mimeType)
	}
	if m.UploadFileError != nil {
		return "", m.UploadFileError
	}
	if m.UploadFileURI != "" {
		return m.UploadFileURI, nil
	}
	return "mock://" + key, nil
}

// UploadBytes implements Storage interface
func (m *MockStorage) UploadBytes(ctx context.Context, data []byte, key, mimeType string) (string, error) {
	m.mu.Lock()
	m.UploadBytesCalls = append(m.UploadBytesCalls, UploadBytesCall{
		Data:     data,
		Key:      key,
		MimeType: mimeType,
	})
	m.mu.Unlock()
	if m.UploadBytesFunc != nil {
		return m.UploadBytesFunc(ctx, data, key, mimeType)
	}
	if m.UploadBytesError != nil {
		return "", m.UploadBytesError
	}
	if m.UploadBytesURI != "" {
		return m.UploadBytesURI, nil
	}
	return "mock://" + key, nil
}

// DownloadFile implements Storage interface
func (m *MockStorage) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	m.DownloadFileCalls = append(m.DownloadFileCalls, key)
	m.mu.Unlock()
	if m.DownloadFileFunc != nil {
		return m.DownloadFileFunc(ctx, key)
	}
	return m.DownloadFileContent, m.DownloadFileError
}

// DownloadFileTo implements Storage interface
func (m *MockStorage) DownloadFileTo(ctx context.Context, key, localPath string) error {
	m.mu.Lock()
	m.DownloadFileToCalls = append(m.DownloadFileToCalls, DownloadFileToCall{
		Key:       key,
		LocalPath: localPath,
	})
	m.mu.Unlock()
	if m.DownloadFileToFunc != nil {
		return m.DownloadFileToFunc(ctx, key, localPath)
	}
	return m.DownloadFileToError
}

// FileExists implements Storage interface
func (m *MockStorage) FileExists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	m.FileExistsCalls = append(m.FileExistsCalls, key)
	m.mu.Unlock()
	if m.FileExistsFunc != nil {
		return m.FileExistsFunc(ctx, key)
	}
	return m.FileExistsResult, m.FileExistsError
}

// DeleteFile implements Storage interface
func (m *MockStorage) DeleteFile(ctx context.Context, key string) error {
	m.mu.Lock()
	m.DeleteFileCalls = append(m.DeleteFileCalls, key)
	m.mu.Unlock()
	if m.DeleteFileFunc != nil {
		return m.DeleteFileFunc(ctx, key)
	}
	return m.DeleteFileError
}

// DeletePrefix implements Storage interface
func (m *MockStorage) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	m.DeletePrefixCalls = append(m.DeletePrefixCalls, prefix)
	m.mu.Unlock()
	if m.DeletePrefixFunc != nil {
		return m.DeletePrefixFunc(ctx, prefix)
	}
	return m.DeletePrefixError
}

// GenerateDownloadURL implements Storage interface
func (m *MockStorage) GenerateDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	m.mu.Lock()
	m.GenerateDownloadURLCalls = append(m.GenerateDownloadURLCalls, key)
	m.mu.Unlock()
	if m.GenerateDownloadURLFunc != nil {
		return m.GenerateDownloadURLFunc(ctx, key, expires)
	}
	if m.GenerateDownloadURLError != nil {
		return "", m.GenerateDownloadURLError
	}
	if m.GenerateDownloadURLValue != "" {
		return m.GenerateDownloadURLValue, nil
	}
	return "https://mock-download-url.com/" + key, nil
}

// Reset clears all call tracking and resets the mock to default state.
func (m *MockStorage) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Clear function overrides
	m.UploadFileFunc = nil
	m.UploadBytesFunc = nil
	m.DownloadFileFunc = nil
	m.DownloadFileToFunc = nil
	m.FileExistsFunc = nil
	m.DeleteFileFunc = nil
	m.DeletePrefixFunc = nil
	m.GenerateDownloadURLFunc = nil

	// Clear simple return values
	m.UploadFileURI = ""
	m.UploadFileError = nil
	m.UploadBytesURI = ""
	m.UploadBytesError = nil
	m.DownloadFileContent = nil
	m.DownloadFileError = nil
	m.DownloadFileToError = nil
	m.FileExistsResult = false
	m.FileExistsError = nil
	m.DeleteFileError = nil
	m.DeletePrefixError = nil
	m.GenerateDownloadURLValue = ""
	m.GenerateDownloadURLError = nil

	// Clear call tracking
	m.UploadFileCalls = make([]UploadFileCall, 0)
	m.UploadBytesCalls = make([]UploadBytesCall, 0)
	m.DownloadFileCalls = make([]string, 0)
	m.DownloadFileToCalls = make([]DownloadFileToCall, 0)
	m.FileExistsCalls = make([]string, 0)
	m.DeleteFileCalls = make([]string, 0)
	m.DeletePrefixCalls = make([]string, 0)
	m.GenerateDownloadURLCalls = make([]string, 0)
}

// CallCount returns the number of calls made to each method for verification.
func (m *MockStorage) CallCount() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]int{
		"UploadFile":          len(m.UploadFileCalls),
		"UploadBytes":         len(m.UploadBytesCalls),
		"DownloadFile":        len(m.DownloadFileCalls),
		"DownloadFileTo":      len(m.DownloadFileToCalls),
		"FileExists":          len(m.FileExistsCalls),
		"DeleteFile":          len(m.DeleteFileCalls),
		"DeletePrefix":        len(m.DeletePrefixCalls),
		"GenerateDownloadURL": len(m.GenerateDownloadURLCalls),
	}
}
