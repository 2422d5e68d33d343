package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cragline/core"

	"github.com/sirupsen/logrus"
)

// recordStore keeps route/boulder records in process memory. Default store
// for development and tests.
type recordStore struct {
	mu      sync.RWMutex
	records map[core.Table]map[string]*core.TopoRecord
}

// NewRecordStore creates a new in-memory record store.
func NewRecordStore() *recordStore {
	return &recordStore{
		records: make(map[core.Table]map[string]*core.TopoRecord),
	}
}

func (s *recordStore) List(ctx context.Context, table core.Table) ([]*core.TopoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.records[table]
	records := make([]*core.TopoRecord, 0, len(rows))
	for _, r := range rows {
		clone := *r
		records = append(records, &clone)
	}
	// Same ordering contract as the sqlite store.
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	logrus.WithField("table", table).Debugf("Listed %d records", len(records))
	return records, nil
}

func (s *recordStore) Get(ctx context.Context, table core.Table, id string) (*core.TopoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[table][id]
	if !ok {
		return nil, fmt.Errorf("%s with id %s not found", table, id)
	}
	clone := *r
	return &clone, nil
}

func (s *recordStore) Save(ctx context.Context, table core.Table, record *core.TopoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		return fmt.Errorf("record id cannot be empty")
	}

	rows, ok := s.records[table]
	if !ok {
		rows = make(map[string]*core.TopoRecord)
		s.records[table] = rows
	}

	now := time.Now()
	if existing, exists := rows[record.ID]; exists {
		record.CreatedAt = existing.CreatedAt
	} else {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	clone := *record
	rows[record.ID] = &clone
	logrus.WithFields(logrus.Fields{"table": table, "record_id": record.ID}).Info("Record saved")
	return nil
}

func (s *recordStore) UpdateImageField(ctx context.Context, table core.Table, id string, field core.ImageField, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[table][id]
	if !ok {
		return fmt.Errorf("%s with id %s not found", table, id)
	}

	switch field {
	case core.FieldImage:
		r.Image = url
	case core.FieldImageLine:
		r.ImageLine = url
	default:
		return fmt.Errorf("unknown image field %q", field)
	}
	r.UpdatedAt = time.Now()

	logrus.WithFields(logrus.Fields{
		"table":     table,
		"record_id": id,
		"field":     field,
	}).Info("Image field updated")
	return nil
}

// blobStore keeps uploaded blobs in process memory.
type blobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *blobStore {
	return &blobStore{blobs: make(map[string][]byte)}
}

func (s *blobStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[key] = buf

	logrus.WithFields(logrus.Fields{
		"key":         key,
		"data_length": len(data),
		"contentType": contentType,
	}).Info("Blob uploaded")
	return nil
}

func (s *blobStore) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (s *blobStore) PublicURL(key string) string {
	return "memory://" + key
}
