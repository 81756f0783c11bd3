package mesh

import "errors"

// ErrMeshClosed is returned by Publish after Close.
var ErrMeshClosed = errors.New("mesh: closed")
