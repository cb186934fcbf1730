package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDocumentNotFound is returned when the addressed document row is absent.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentRow persists one schemaless document. Collection paths may contain
// slashes for subcollections (e.g. "chat-rooms/general/messages").
type DocumentRow struct {
	ID         uint              `gorm:"primaryKey"`
	Collection string            `gorm:"size:255;uniqueIndex:idx_documents_collection_doc,priority:1"`
	DocID      string            `gorm:"size:128;uniqueIndex:idx_documents_collection_doc,priority:2"`
	Fields     datatypes.JSONMap `gorm:"type:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName keeps the table name stable across migrations.
func (DocumentRow) TableName() string {
	return "documents"
}

// DocumentRepository persists schemaless documents with field-level atomic
// set mutations.
type DocumentRepository interface {
	Get(ctx context.Context, collection, id string) (DocumentRow, error)
	List(ctx context.Context, collection string) ([]DocumentRow, error)
	Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	AddToSet(ctx context.Context, collection, id, field, value string) error
	RemoveFromSet(ctx context.Context, collection, id, field, value string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository constructs a document repository backed by GORM.
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Get(ctx context.Context, collection, id string) (DocumentRow, error) {
	var row DocumentRow
	err := r.db.WithContext(ctx).Where("collection = ? AND doc_id = ?", collection, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DocumentRow{}, ErrDocumentNotFound
	}
	if err != nil {
		return DocumentRow{}, err
	}
	return row, nil
}

func (r *documentRepository) List(ctx context.Context, collection string) ([]DocumentRow, error) {
	var rows []DocumentRow
	if err := r.db.WithContext(ctx).Where("collection = ?", collection).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *documentRepository) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row DocumentRow
		err := r.locked(tx).Where("collection = ? AND doc_id = ?", collection, id).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = DocumentRow{Collection: collection, DocID: id, Fields: datatypes.JSONMap(applyFields(map[string]any{}, fields))}
			return tx.Create(&row).Error
		case err != nil:
			return err
		}

		if merge {
			row.Fields = datatypes.JSONMap(applyFields(map[string]any(row.Fields), fields))
		} else {
			row.Fields = datatypes.JSONMap(applyFields(map[string]any{}, fields))
		}
		return tx.Save(&row).Error
	})
}

func (r *documentRepository) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := r.lockedGet(tx, collection, id)
		if err != nil {
			return err
		}

		row.Fields = datatypes.JSONMap(applyFields(map[string]any(row.Fields), fields))
		return tx.Save(&row).Error
	})
}

func (r *documentRepository) Delete(ctx context.Context, collection, id string) error {
	return r.db.WithContext(ctx).Where("collection = ? AND doc_id = ?", collection, id).Delete(&DocumentRow{}).Error
}

func (r *documentRepository) AddToSet(ctx context.Context, collection, id, field, value string) error {
	return r.mutateSet(ctx, collection, id, field, func(members []string) []string {
		for _, member := range members {
			if member == value {
				return members
			}
		}
		return append(members, value)
	})
}

func (r *documentRepository) RemoveFromSet(ctx context.Context, collection, id, field, value string) error {
	return r.mutateSet(ctx, collection, id, field, func(members []string) []string {
		out := members[:0]
		for _, member := range members {
			if member != value {
				out = append(out, member)
			}
		}
		return out
	})
}

// mutateSet performs a row-locked read-modify-write of a single set-valued
// field so concurrent mutations of sibling keys never lose each other.
func (r *documentRepository) mutateSet(ctx context.Context, collection, id, field string, mutate func([]string) []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := r.lockedGet(tx, collection, id)
		if err != nil {
			return err
		}

		fields := map[string]any(row.Fields)
		members := stringSetAtPath(fields, field)
		updated := mutate(members)

		encoded := make([]any, 0, len(updated))
		for _, member := range updated {
			encoded = append(encoded, member)
		}
		setAtPath(fields, field, encoded)

		row.Fields = datatypes.JSONMap(fields)
		return tx.Save(&row).Error
	})
}

func (r *documentRepository) lockedGet(tx *gorm.DB, collection, id string) (DocumentRow, error) {
	var row DocumentRow
	err := r.locked(tx).Where("collection = ? AND doc_id = ?", collection, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DocumentRow{}, fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, collection, id)
	}
	if err != nil {
		return DocumentRow{}, err
	}
	return row, nil
}

// locked applies a FOR UPDATE clause on dialects that support it. SQLite
// serialises writers on its own.
func (r *documentRepository) locked(tx *gorm.DB) *gorm.DB {
	if r.db.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// applyFields merges updates into base, interpreting dotted keys as nested
// map paths the way partial document updates address single fields.
func applyFields(base map[string]any, updates map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	for key, value := range updates {
		setAtPath(base, key, value)
	}
	return base
}

func setAtPath(fields map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := fields
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func stringSetAtPath(fields map[string]any, path string) []string {
	parts := strings.Split(path, ".")
	current := fields
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}

	switch v := current[parts[len(parts)-1]].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
