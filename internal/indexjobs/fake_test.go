package indexjobs

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/objectfs/storage-gateway/internal/driver"
	"github.com/objectfs/storage-gateway/internal/fsfacade"
	"github.com/objectfs/storage-gateway/internal/searchindex"
	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

type fakeNode struct {
	isDir bool
	size  int64
}

// fakeDriver is an in-memory types.Driver backing directory listings and
// stat for the BFS walker, keyed by an explicit path set rather than a
// nested tree.
type fakeDriver struct {
	nodes map[string]fakeNode
}

func newFakeDriver(paths map[string]fakeNode) *fakeDriver {
	return &fakeDriver{nodes: paths}
}

func (d *fakeDriver) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(types.CapReader)
}

func (d *fakeDriver) Exists(ctx context.Context, fsPath string) (bool, error) {
	_, ok := d.nodes[fsPath]
	return ok, nil
}

func (d *fakeDriver) Stat(ctx context.Context, fsPath string) (*types.ObjectInfo, error) {
	n, ok := d.nodes[fsPath]
	if !ok {
		return nil, gwerrors.NotFound(gwerrors.ErrCodePathNotFound, "not found: "+fsPath)
	}
	return &types.ObjectInfo{Key: fsPath, Size: n.size, IsDir: n.isDir, LastModified: time.Unix(0, 0)}, nil
}

func (d *fakeDriver) ListDirectory(ctx context.Context, fsPath string) ([]types.ObjectInfo, error) {
	prefix := fsPath
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	seen := make(map[string]bool)
	var out []types.ObjectInfo
	for p, n := range d.nodes {
		if p == fsPath || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name := rest
		isDir := n.isDir
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name = rest[:idx]
			isDir = true
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, types.ObjectInfo{Key: name, IsDir: isDir, Size: n.size, LastModified: time.Unix(0, 0)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (d *fakeDriver) DownloadFile(ctx context.Context, fsPath string, r types.ByteRange) (io.ReadCloser, error) {
	return nil, gwerrors.New(gwerrors.ErrCodeUpstreamRejected, "not implemented")
}

func (d *fakeDriver) CreateDirectory(ctx context.Context, fsPath string) error {
	d.nodes[fsPath] = fakeNode{isDir: true}
	return nil
}

func (d *fakeDriver) UploadFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	d.nodes[fsPath] = fakeNode{size: size}
	return nil
}

func (d *fakeDriver) UpdateFile(ctx context.Context, fsPath string, r io.Reader, size int64) error {
	d.nodes[fsPath] = fakeNode{size: size}
	return nil
}

func (d *fakeDriver) RenameItem(ctx context.Context, fromPath, toPath string) error {
	n := d.nodes[fromPath]
	delete(d.nodes, fromPath)
	d.nodes[toPath] = n
	return nil
}

func (d *fakeDriver) CopyItem(ctx context.Context, fromPath, toPath string) error {
	d.nodes[toPath] = d.nodes[fromPath]
	return nil
}

func (d *fakeDriver) BatchRemoveItems(ctx context.Context, fsPaths []string) error {
	for _, p := range fsPaths {
		delete(d.nodes, p)
	}
	return nil
}

func (d *fakeDriver) MultipartDriver() types.MultipartDriver { return nil }

func (d *fakeDriver) remove(fsPath string) { delete(d.nodes, fsPath) }

func (d *fakeDriver) add(fsPath string, n fakeNode) { d.nodes[fsPath] = n }

func newTestFacade(t interface{ Helper() }, mountID string, nodes map[string]fakeNode) (*fsfacade.Facade, *fakeDriver) {
	drv := newFakeDriver(nodes)
	reg := driver.NewRegistry()
	reg.Register("cfg-1", drv)
	facade := fsfacade.New(reg, nil, nil)
	facade.RegisterMount(types.Mount{ID: mountID, StorageConfigID: "cfg-1", RootPrefix: "/"})
	return facade, drv
}

func newTestIndex() *searchindex.Store { return searchindex.New() }
