package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

const (
	// SingleRequestUploadSize is the largest payload sent in one request and
	// the size of every part of a multi-part upload.
	SingleRequestUploadSize = 10485760

	// MaxListLimit is the largest page the list endpoint returns.
	MaxListLimit = 1000

	// MaxDeleteNames is the largest batch accepted by the bulk delete endpoint.
	MaxDeleteNames = 1000
)

// FileInfo confirms a stored file.
type FileInfo struct {
	Name      string `json:"name"`
	ProjectID string `json:"project_id,omitempty"`
	DriveName string `json:"drive_name,omitempty"`
	UploadID  string `json:"upload_id,omitempty"`
}

// ListOptions filters a List call. A zero Limit lets the service choose.
type ListOptions struct {
	Limit  int
	Prefix string
	Cursor string
}

// FileList is one page of file names. An empty Cursor marks the last page.
type FileList struct {
	Names  []string
	Cursor string
}

// DeleteResult reports a bulk delete. Failed maps a name to the reason given
// by the service.
type DeleteResult struct {
	Deleted []string          `json:"deleted"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Source supplies the bytes of an upload.
type Source interface {
	load() ([]byte, error)
}

type pathSource string

func (p pathSource) load() ([]byte, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return nil, fmt.Errorf("drive: read %s: %w", string(p), err)
	}
	return data, nil
}

type byteSource []byte

func (b byteSource) load() ([]byte, error) { return []byte(b), nil }

type textSource string

func (t textSource) load() ([]byte, error) { return []byte(t), nil }

type readerSource struct{ r io.Reader }

func (s readerSource) load() ([]byte, error) {
	if s.r == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(s.r); err != nil {
		return nil, fmt.Errorf("drive: read upload payload: %w", err)
	}
	return buf.Bytes(), nil
}

// FilePath uploads the contents of a local file.
func FilePath(path string) Source { return pathSource(path) }

// Bytes uploads b as is.
func Bytes(b []byte) Source { return byteSource(b) }

// Text uploads s as UTF-8.
func Text(s string) Source { return textSource(s) }

// Reader uploads everything r yields. The reader is drained before any
// request is sent.
func Reader(r io.Reader) Source { return readerSource{r: r} }

func materialize(src Source) ([]byte, error) {
	if src == nil {
		return []byte{}, nil
	}
	data, err := src.load()
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Backend performs single calls against one project's Drive service.
// Implementations return *detaerr.Error values for service-signalled failures.
type Backend interface {
	PutFile(ctx context.Context, drive, name string, data []byte) (*FileInfo, error)
	StartUpload(ctx context.Context, drive, name string) (string, error)
	UploadPart(ctx context.Context, drive, name, uploadID string, part int, data []byte) error
	FinishUpload(ctx context.Context, drive, name, uploadID string, data []byte) (*FileInfo, error)
	AbortUpload(ctx context.Context, drive, name, uploadID string) (*FileInfo, error)
	GetFile(ctx context.Context, drive, name string) (io.ReadCloser, error)
	ListFiles(ctx context.Context, drive string, opts ListOptions) (*FileList, error)
	DeleteFiles(ctx context.Context, drive string, names []string) (*DeleteResult, error)
}
