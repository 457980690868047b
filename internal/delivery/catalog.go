// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

// Package delivery resolves protected assets and streams their bytes to
// clients. The catalog decides what an asset ID maps to; the streamer
// moves the payload with optional bandwidth throttling.
package delivery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrAssetNotFound indicates the requested asset ID does not resolve to
// a deliverable file.
var ErrAssetNotFound = errors.New("asset not found")

// Asset describes a single deliverable file.
type Asset struct {
	// ID is the external identifier clients request.
	ID string `json:"id"`

	// Version is an opaque marker that changes whenever the underlying
	// content changes. For file-backed catalogs this is the
	// modification time in RFC3339 form.
	Version string `json:"version"`

	// Path is the absolute filesystem path of the content.
	Path string `json:"-"`

	// Size is the content length in bytes.
	Size int64 `json:"size"`

	// ContentType is the MIME type served for the asset, derived from
	// the file extension. Empty means application/octet-stream.
	ContentType string `json:"content_type,omitempty"`
}

// Catalog resolves asset IDs to deliverable assets.
type Catalog interface {
	// Lookup returns the asset for the given ID, or ErrAssetNotFound.
	Lookup(assetID string) (*Asset, error)
}

// DirCatalog serves assets from a flat directory tree. The asset ID is
// the path relative to the root; anything escaping the root is treated
// as not found rather than leaked as an error detail.
type DirCatalog struct {
	root string
}

// NewDirCatalog creates a catalog rooted at the given directory.
func NewDirCatalog(root string) (*DirCatalog, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving catalog root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("catalog root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog root %s is not a directory", abs)
	}
	return &DirCatalog{root: abs}, nil
}

// Lookup resolves an asset ID against the catalog root.
func (c *DirCatalog) Lookup(assetID string) (*Asset, error) {
	if assetID == "" {
		return nil, ErrAssetNotFound
	}

	// Normalize and confine the path to the root. Absolute IDs and
	// dot-dot traversal both land outside and are rejected the same
	// way as a missing file.
	clean := filepath.Clean("/" + assetID)
	path := filepath.Join(c.root, clean)
	if path != c.root && !strings.HasPrefix(path, c.root+string(filepath.Separator)) {
		return nil, ErrAssetNotFound
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("stat asset %s: %w", assetID, err)
	}
	if info.IsDir() {
		return nil, ErrAssetNotFound
	}

	return &Asset{
		ID:          assetID,
		Version:     info.ModTime().UTC().Format(time.RFC3339),
		Path:        path,
		Size:        info.Size(),
		ContentType: contentTypeFor(path),
	}, nil
}

// contentTypeFor maps common download extensions to MIME types without
// consulting the platform MIME database.
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return "application/zip"
	case ".gz", ".tgz":
		return "application/gzip"
	case ".tar":
		return "application/x-tar"
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".bin", ".iso", ".img":
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}
