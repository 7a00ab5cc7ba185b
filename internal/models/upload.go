package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// UploadedFile is the metadata of a blob uploaded with a process.
type UploadedFile struct {
	ID        surrealmodels.RecordID `json:"id"`
	Name      string                 `json:"name"`
	Link      string                 `json:"link"`
	BlobKey   string                 `json:"blob_key"`
	DateAdded time.Time              `json:"date_added"`
}
