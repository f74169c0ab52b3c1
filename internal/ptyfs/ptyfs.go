// Package ptyfs serves the clients of a ptysrv.Server as files in a
// FUSE filesystem: client id N appears as /N. Reads and writes on a
// node are dispatched to that client; transient backpressure surfaces
// as EAGAIN so callers can poll and retry, matching the non-blocking
// core contract.
package ptyfs

import (
	"context"
	"errors"
	"io"
	"strconv"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"

	"github.com/srg/ptymux/internal/ptysrv"
)

// Root is the filesystem root, listing one regular file per client.
type Root struct {
	fs.Inode
	srv *ptysrv.Server
}

var _ = (fs.NodeReaddirer)((*Root)(nil))
var _ = (fs.NodeLookuper)((*Root)(nil))

// Readdir lists the live clients by numeric id.
func (r *Root) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	ids := r.srv.ClientIDs()
	entries := make([]fuse.DirEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, fuse.DirEntry{
			Name: strconv.FormatUint(uint64(id), 10),
			Mode: fuse.S_IFREG,
			Ino:  inoFor(id),
		})
	}
	return fs.NewListDirStream(entries), 0
}

// Lookup resolves a numeric name to the matching client node.
func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	id64, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return nil, syscall.ENOENT
	}
	client := r.srv.Client(uint32(id64))
	if client == nil {
		return nil, syscall.ENOENT
	}
	node := &clientNode{client: client}
	return r.NewInode(ctx, node, fs.StableAttr{
		Mode: fuse.S_IFREG,
		Ino:  inoFor(uint32(id64)),
	}), 0
}

// Root ino is 1; client inos start above it.
func inoFor(id uint32) uint64 { return uint64(id) + 2 }

// clientNode is the per-client file.
type clientNode struct {
	fs.Inode
	client *ptysrv.Client
}

var _ = (fs.NodeOpener)((*clientNode)(nil))
var _ = (fs.NodeReader)((*clientNode)(nil))
var _ = (fs.NodeWriter)((*clientNode)(nil))
var _ = (fs.NodeGetattrer)((*clientNode)(nil))

// Open uses direct IO: a terminal stream has no meaningful page cache.
func (n *clientNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *clientNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0o600
	return 0
}

// Read drains the client's fifo. The stream has no positions, so off
// is ignored.
func (n *clientNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	count, err := n.client.Read(dest)
	switch {
	case err == nil:
		return fuse.ReadResultData(dest[:count]), 0
	case errors.Is(err, io.EOF):
		return fuse.ReadResultData(nil), 0
	case errors.Is(err, ptysrv.ErrShouldWait):
		return nil, syscall.EAGAIN
	default:
		return nil, syscall.EIO
	}
}

// Write sends bytes toward the server side of the stream.
func (n *clientNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	count, err := n.client.Write(data)
	switch {
	case err == nil:
		return uint32(count), 0
	case errors.Is(err, ptysrv.ErrShouldWait):
		return 0, syscall.EAGAIN
	case errors.Is(err, ptysrv.ErrPeerClosed):
		return 0, syscall.EPIPE
	default:
		return 0, syscall.EIO
	}
}

// Mount serves srv's clients under dir until the returned server is
// unmounted. A nil logger disables logging.
func Mount(dir string, srv *ptysrv.Server, log *logrus.Logger) (*fuse.Server, error) {
	root := &Root{srv: srv}
	fuseSrv, err := fs.Mount(dir, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: "ptymux",
			Name:   "ptymux",
		},
	})
	if err != nil {
		return nil, err
	}
	if log != nil {
		log.WithField("dir", dir).Info("Mounted PTY filesystem")
	}
	return fuseSrv, nil
}
