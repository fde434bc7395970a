// Package remotetest provides an in-memory remote.Backend for tests.
package remotetest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"mrb/internal/remote"
)

type Object struct {
	Data         []byte
	Slot         string
	StorageClass types.StorageClass
	LastModified time.Time
}

// Call records one mutating backend operation, e.g. "copy daily/a latest/a".
type Call string

type Memory struct {
	Bucket string
	Prefix string

	// Fail makes the named operation ("upload", "copy", "list", "delete",
	// "download", "head", "verify") return an error.
	Fail map[string]error

	mu      sync.Mutex
	objects map[string]*Object
	calls   []Call
}

var _ remote.Backend = (*Memory)(nil)

func NewMemory(bucket, prefix string) *Memory {
	return &Memory{Bucket: bucket, Prefix: prefix, objects: map[string]*Object{}}
}

func (m *Memory) fail(op string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail[op]
}

func (m *Memory) record(format string, args ...any) {
	m.calls = append(m.calls, Call(fmt.Sprintf(format, args...)))
}

// Put stores an object directly, bypassing call recording.
func (m *Memory) Put(remotePath string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[remotePath] = &Object{Data: data, LastModified: time.Now()}
}

func (m *Memory) Get(remotePath string) (*Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[remotePath]
	return obj, ok
}

// Paths returns every stored path in sorted order.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *Memory) Upload(_ context.Context, r io.Reader, remotePath, slot string, storageClass types.StorageClass) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("upload %s", remotePath)
	if err := m.fail("upload"); err != nil {
		return err
	}
	m.objects[remotePath] = &Object{Data: data, Slot: slot, StorageClass: storageClass, LastModified: time.Now()}
	return nil
}

func (m *Memory) Copy(_ context.Context, srcPath, dstPath, slot string, storageClass types.StorageClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("copy %s %s", srcPath, dstPath)
	if err := m.fail("copy"); err != nil {
		return err
	}
	src, ok := m.objects[srcPath]
	if !ok {
		return fmt.Errorf("%s: %w", srcPath, remote.ErrNotFound)
	}
	m.objects[dstPath] = &Object{Data: src.Data, Slot: slot, StorageClass: storageClass, LastModified: time.Now()}
	return nil
}

func (m *Memory) List(_ context.Context, dir string) ([]remote.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("list"); err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(dir, "/") + "/"
	if dir == "" {
		prefix = ""
	}
	var out []remote.Object
	for p, obj := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, remote.Object{Path: p, Size: int64(len(obj.Data)), LastModified: obj.LastModified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) Delete(_ context.Context, remotePaths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete %s", strings.Join(remotePaths, " "))
	if err := m.fail("delete"); err != nil {
		return err
	}
	for _, p := range remotePaths {
		delete(m.objects, p)
	}
	return nil
}

func (m *Memory) Download(_ context.Context, remotePath, localPath string) error {
	m.mu.Lock()
	obj, ok := m.objects[remotePath]
	err := m.fail("download")
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", remotePath, remote.ErrNotFound)
	}
	return os.WriteFile(localPath, obj.Data, 0o644)
}

func (m *Memory) Head(_ context.Context, remotePath string) (*remote.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("head"); err != nil {
		return nil, err
	}
	obj, ok := m.objects[remotePath]
	if !ok {
		return nil, fmt.Errorf("%s: %w", remotePath, remote.ErrNotFound)
	}
	return &remote.ObjectInfo{Size: int64(len(obj.Data)), StorageClass: string(obj.StorageClass)}, nil
}

func (m *Memory) VerifyCredentials(context.Context) error {
	return m.fail("verify")
}

func (m *Memory) URI(remotePath string) string {
	return "s3://" + path.Join(m.Bucket, m.Prefix, remotePath)
}
