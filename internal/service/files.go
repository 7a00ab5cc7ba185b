package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/matgraph/internal/blob"
	"github.com/raphaelgruber/matgraph/internal/models"
)

// UploadStore keeps the metadata of uploaded files. *db.Client implements it.
type UploadStore interface {
	CreateUpload(ctx context.Context, name, link, blobKey string) (*models.UploadedFile, error)
	GetUpload(ctx context.Context, id string) (*models.UploadedFile, error)
}

// Files stores uploaded tables and serves them back to the stage workers.
type Files struct {
	uploads UploadStore
	blobs   blob.Store
}

// NewFiles creates the file source over an upload registry and a blob store.
func NewFiles(uploads UploadStore, blobs blob.Store) *Files {
	return &Files{uploads: uploads, blobs: blobs}
}

// Save stores r as a new upload and returns its file id.
func (f *Files) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	key := fmt.Sprintf("%s/%s%s", time.Now().UTC().Format("2006/01/02"), uuid.NewString(), path.Ext(name))
	link, err := f.blobs.Put(ctx, key, r)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	up, err := f.uploads.CreateUpload(ctx, name, link, key)
	if err != nil {
		return "", err
	}
	id, err := models.RecordIDString(up.ID)
	if err != nil {
		return "", fmt.Errorf("upload id: %w", err)
	}
	return id, nil
}

// Fetch returns the content and link of an uploaded file.
func (f *Files) Fetch(ctx context.Context, fileID string) ([]byte, string, error) {
	up, err := f.uploads.GetUpload(ctx, fileID)
	if err != nil {
		return nil, "", err
	}
	data, err := f.blobs.Get(ctx, up.BlobKey)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", up.Name, err)
	}
	return data, up.Link, nil
}
