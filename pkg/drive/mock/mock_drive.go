// Package mock provides an in-memory drive.Backend with multi-part upload
// sessions, for tests, examples and the sandbox server.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/asyncdeta/deta_sdk_go/internal/devseed"
	"github.com/asyncdeta/deta_sdk_go/pkg/detaerr"
	"github.com/asyncdeta/deta_sdk_go/pkg/drive"
)

type file struct {
	data        []byte
	contentType string
}

type session struct {
	drive string
	name  string
	parts map[int][]byte
}

// Mock implements drive.Backend over per-Drive maps.
type Mock struct {
	mu        sync.RWMutex
	projectID string
	drives    map[string]map[string]*file
	uploads   map[string]*session
	pageSize  int
}

// Option configures the mock instance.
type Option func(*Mock)

// WithProjectID sets the project id echoed in FileInfo.
func WithProjectID(id string) Option {
	return func(m *Mock) {
		m.projectID = id
	}
}

// WithPageSize caps names returned per list page.
func WithPageSize(n int) Option {
	return func(m *Mock) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// New creates an empty mock drive store.
func New(opts ...Option) *Mock {
	m := &Mock{
		projectID: "mock",
		drives:    make(map[string]map[string]*file),
		uploads:   make(map[string]*session),
		pageSize:  drive.MaxListLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed loads files (typically decoded via devseed.LoadDriveSeed).
func (m *Mock) Seed(entries []devseed.DriveSeedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		data, err := e.Data()
		if err != nil {
			return fmt.Errorf("mock drive: %w", err)
		}
		m.store(e.Drive, e.Name, data)
	}
	return nil
}

// ContentType reports the detected MIME type of a stored file.
func (m *Mock) ContentType(driveName, name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.drives[driveName][name]
	if !ok {
		return "", false
	}
	return f.contentType, true
}

// OpenUploads reports how many multi-part sessions are neither finished nor
// aborted.
func (m *Mock) OpenUploads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.uploads)
}

func (m *Mock) store(driveName, name string, data []byte) {
	files, ok := m.drives[driveName]
	if !ok {
		files = make(map[string]*file)
		m.drives[driveName] = files
	}
	files[name] = &file{
		data:        append([]byte(nil), data...),
		contentType: mimetype.Detect(data).String(),
	}
}

func (m *Mock) info(driveName, name string) *drive.FileInfo {
	return &drive.FileInfo{Name: name, ProjectID: m.projectID, DriveName: driveName}
}

func fail(cond error, status int, driveName, name, msg string) *detaerr.Error {
	return detaerr.New("push", driveName, cond).WithStatus(status, []string{msg}).WithKey(name)
}

func checkName(driveName, name string) error {
	if strings.TrimSpace(name) == "" {
		return fail(detaerr.ErrBadRequest, http.StatusBadRequest, driveName, name, "name is required")
	}
	return nil
}

func (m *Mock) PutFile(ctx context.Context, driveName, name string, data []byte) (*drive.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkName(driveName, name); err != nil {
		return nil, err
	}
	if len(data) > drive.SingleRequestUploadSize {
		return nil, fail(detaerr.ErrBadRequest, http.StatusBadRequest, driveName, name, "payload too large for a single request")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(driveName, name, data)
	return m.info(driveName, name), nil
}

func (m *Mock) StartUpload(ctx context.Context, driveName, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkName(driveName, name); err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[id] = &session{drive: driveName, name: name, parts: make(map[int][]byte)}
	return id, nil
}

// lookup must be called with the lock held.
func (m *Mock) lookup(driveName, name, uploadID string) (*session, error) {
	s, ok := m.uploads[uploadID]
	if !ok || s.drive != driveName {
		return nil, fail(detaerr.ErrNotFound, http.StatusNotFound, driveName, name, "upload not found")
	}
	if s.name != name {
		return nil, fail(detaerr.ErrBadRequest, http.StatusBadRequest, driveName, name, "name does not match upload")
	}
	return s, nil
}

func (m *Mock) UploadPart(ctx context.Context, driveName, name, uploadID string, part int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if part < 1 {
		return fail(detaerr.ErrBadRequest, http.StatusBadRequest, driveName, name, "part must be >= 1")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(driveName, name, uploadID)
	if err != nil {
		return err
	}
	s.parts[part] = append([]byte(nil), data...)
	return nil
}

func (m *Mock) FinishUpload(ctx context.Context, driveName, name, uploadID string, data []byte) (*drive.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(driveName, name, uploadID)
	if err != nil {
		return nil, err
	}
	nums := make([]int, 0, len(s.parts))
	for n := range s.parts {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	var buf bytes.Buffer
	for i, n := range nums {
		if n != i+1 {
			return nil, fail(detaerr.ErrBadRequest, http.StatusBadRequest, driveName, name, fmt.Sprintf("part %d missing", i+1))
		}
		buf.Write(s.parts[n])
	}
	buf.Write(data)
	m.store(driveName, name, buf.Bytes())
	delete(m.uploads, uploadID)

	info := m.info(driveName, name)
	info.UploadID = uploadID
	return info, nil
}

func (m *Mock) AbortUpload(ctx context.Context, driveName, name, uploadID string) (*drive.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(driveName, name, uploadID); err != nil {
		return nil, err
	}
	delete(m.uploads, uploadID)
	info := m.info(driveName, name)
	info.UploadID = uploadID
	return info, nil
}

func (m *Mock) GetFile(ctx context.Context, driveName, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.drives[driveName][name]
	if !ok {
		return nil, detaerr.New("pull", driveName, detaerr.ErrNotFound).
			WithStatus(http.StatusNotFound, []string{"file not found"}).WithKey(name)
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (m *Mock) ListFiles(ctx context.Context, driveName string, opts drive.ListOptions) (*drive.FileList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Limit < 0 || opts.Limit > drive.MaxListLimit {
		return nil, detaerr.New("list", driveName, detaerr.ErrBadRequest).
			WithStatus(http.StatusBadRequest, []string{"invalid limit"})
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0)
	for name := range m.drives[driveName] {
		if strings.HasPrefix(name, opts.Prefix) && (opts.Cursor == "" || name > opts.Cursor) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	size := m.pageSize
	if opts.Limit > 0 && opts.Limit < size {
		size = opts.Limit
	}
	list := &drive.FileList{Names: names}
	if len(names) > size {
		list.Names = names[:size]
		list.Cursor = names[size-1]
	}
	return list, nil
}

func (m *Mock) DeleteFiles(ctx context.Context, driveName string, names []string) (*drive.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(names) > drive.MaxDeleteNames {
		return nil, detaerr.New("delete_many", driveName, detaerr.ErrBadRequest).
			WithStatus(http.StatusBadRequest, []string{"too many names"})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res := &drive.DeleteResult{Deleted: make([]string, 0, len(names))}
	for _, name := range names {
		delete(m.drives[driveName], name)
		res.Deleted = append(res.Deleted, name)
	}
	return res, nil
}
