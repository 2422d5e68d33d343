package core

import (
	"context"
	"fmt"
	"time"
)

type (
	// Point is a coordinate in image-pixel space.
	Point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Path is the polyline a user draws over a topo photo. A path needs at
	// least MinPathPoints points to be finishable or renderable.
	Path []Point

	// Table names a logical record table.
	Table string

	// ImageField names the record column holding an image reference.
	ImageField string

	// Category is the blob-store folder for one kind of stored image.
	Category string

	// TopoRecord is a route or boulder row as the image pipeline sees it.
	// Image and ImageLine are public URLs and may be empty.
	TopoRecord struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Grade     string    `json:"grade,omitempty"`
		Image     string    `json:"image,omitempty"`
		ImageLine string    `json:"image_line,omitempty"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// RecordStore defines the persistence layer for route/boulder metadata.
	RecordStore interface {
		// List returns all records of a table ordered by name.
		List(ctx context.Context, table Table) ([]*TopoRecord, error)

		// Get returns a single record by id.
		Get(ctx context.Context, table Table, id string) (*TopoRecord, error)

		// Save creates or updates a record.
		Save(ctx context.Context, table Table, record *TopoRecord) error

		// UpdateImageField sets one image column of an existing record.
		UpdateImageField(ctx context.Context, table Table, id string, field ImageField, url string) error
	}

	// BlobStore defines binary content storage. Upload has upsert semantics:
	// the blob at a key is overwritten in place, so PublicURL stays stable
	// across saves and readers must cache-bust.
	BlobStore interface {
		Upload(ctx context.Context, key string, data []byte, contentType string) error
		Download(ctx context.Context, key string) ([]byte, error)
		PublicURL(key string) string
	}
)

const (
	TableRoute   Table = "route"
	TableBoulder Table = "boulder"

	FieldImage     ImageField = "image"
	FieldImageLine ImageField = "image_line"

	CategoryRoutes       Category = "routes"
	CategoryBoulders     Category = "boulders"
	CategoryRouteLines   Category = "routes_lines"
	CategoryBoulderLines Category = "boulders_lines"

	// MinPathPoints is the smallest point count that counts as a real path.
	MinPathPoints = 2

	// BlobExt is the extension of every stored image blob.
	BlobExt = ".webp"
)

// ParseTable validates a tableType value from the wire. An empty value
// defaults to route, matching the observed client behavior.
func ParseTable(s string) (Table, error) {
	switch s {
	case "", string(TableRoute):
		return TableRoute, nil
	case string(TableBoulder):
		return TableBoulder, nil
	}
	return "", fmt.Errorf("unknown table type %q", s)
}

// CategoryFor maps a table and line/base choice to the storage folder.
func CategoryFor(table Table, hasLine bool) Category {
	switch {
	case table == TableBoulder && hasLine:
		return CategoryBoulderLines
	case table == TableBoulder:
		return CategoryBoulders
	case hasLine:
		return CategoryRouteLines
	default:
		return CategoryRoutes
	}
}

// FieldFor returns the record column a save of this kind updates.
func FieldFor(hasLine bool) ImageField {
	if hasLine {
		return FieldImageLine
	}
	return FieldImage
}

// BlobKey composes the canonical blob path for a record and category.
// One live blob per record+category; a new save overwrites it.
func BlobKey(category Category, recordID string) string {
	return fmt.Sprintf("%s/%s%s", category, recordID, BlobExt)
}

// Valid reports whether the path has enough points to draw or finish.
func (p Path) Valid() bool {
	return len(p) >= MinPathPoints
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}
