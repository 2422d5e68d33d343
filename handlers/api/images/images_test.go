package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cragline/core"
	"cragline/pipeline"
)

// Mock record store for testing
type mockRecordStore struct {
	records   map[string]*core.TopoRecord // keyed table/id
	updateErr error
	updates   int
}

func newMockRecordStore() *mockRecordStore {
	return &mockRecordStore{records: make(map[string]*core.TopoRecord)}
}

func recordKey(table core.Table, id string) string {
	return string(table) + "/" + id
}

func (m *mockRecordStore) seed(table core.Table, id string) *core.TopoRecord {
	r := &core.TopoRecord{ID: id, Name: "Test " + id}
	m.records[recordKey(table, id)] = r
	return r
}

func (m *mockRecordStore) List(ctx context.Context, table core.Table) ([]*core.TopoRecord, error) {
	var out []*core.TopoRecord
	for k, r := range m.records {
		if strings.HasPrefix(k, string(table)+"/") {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRecordStore) Get(ctx context.Context, table core.Table, id string) (*core.TopoRecord, error) {
	r, ok := m.records[recordKey(table, id)]
	if !ok {
		return nil, fmt.Errorf("%s with id %s not found", table, id)
	}
	return r, nil
}

func (m *mockRecordStore) Save(ctx context.Context, table core.Table, record *core.TopoRecord) error {
	m.records[recordKey(table, record.ID)] = record
	return nil
}

func (m *mockRecordStore) UpdateImageField(ctx context.Context, table core.Table, id string, field core.ImageField, url string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	r, ok := m.records[recordKey(table, id)]
	if !ok {
		return fmt.Errorf("%s with id %s not found", table, id)
	}
	switch field {
	case core.FieldImage:
		r.Image = url
	case core.FieldImageLine:
		r.ImageLine = url
	}
	m.updates++
	return nil
}

// Mock blob store for testing
type mockBlobStore struct {
	blobs       map[string][]byte
	uploadErr   error
	downloadErr error
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{blobs: make(map[string][]byte)}
}

func (m *mockBlobStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[key] = buf
	return nil
}

func (m *mockBlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return data, nil
}

func (m *mockBlobStore) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

func flatPNGDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 160
		img.Pix[i+3] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeSaveResponse(t *testing.T, w *httptest.ResponseRecorder) SaveResponse {
	t.Helper()
	var resp SaveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHandleOptimizeLine_SavesRouteLine(t *testing.T) {
	records := newMockRecordStore()
	blobs := newMockBlobStore()
	record := records.seed(core.TableRoute, "r1")

	w := postJSON(t, HandleOptimizeLine(records, blobs), SaveLineRequest{
		ImageData:      flatPNGDataURL(t, 300, 200),
		RouteID:        "r1",
		OriginalWidth:  1200,
		OriginalHeight: 800,
		TableType:      "route",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decodeSaveResponse(t, w)
	if !resp.Success {
		t.Error("response success = false")
	}
	if resp.URL != "https://cdn.test/routes_lines/r1.webp" {
		t.Errorf("url = %q, want the canonical routes_lines url", resp.URL)
	}
	if !strings.HasSuffix(resp.URL, ".webp") {
		t.Errorf("url = %q, want a .webp url", resp.URL)
	}

	// The record holds the same canonical URL the response reports.
	if record.ImageLine != resp.URL {
		t.Errorf("image_line = %q, response url = %q", record.ImageLine, resp.URL)
	}
	if record.Image != "" {
		t.Errorf("base image field touched: %q", record.Image)
	}

	// The stored blob is WebP at the original photo's dimensions.
	data, ok := blobs.blobs["routes_lines/r1.webp"]
	if !ok {
		t.Fatal("blob not stored at routes_lines/r1.webp")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		t.Error("stored blob is not WebP")
	}
	img, err := pipeline.DecodeBytes(data)
	if err != nil {
		t.Fatalf("stored blob does not decode: %v", err)
	}
	if img.Bounds().Dx() != 1200 || img.Bounds().Dy() != 800 {
		t.Errorf("stored dimensions = %dx%d, want 1200x800", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestHandleOptimizeLine_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	HandleOptimizeLine(newMockRecordStore(), newMockBlobStore())(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleOptimizeLine_MissingFields(t *testing.T) {
	w := postJSON(t, HandleOptimizeLine(newMockRecordStore(), newMockBlobStore()), SaveLineRequest{
		RouteID: "r1",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleOptimizeLine_UndecodableImage(t *testing.T) {
	w := postJSON(t, HandleOptimizeLine(newMockRecordStore(), newMockBlobStore()), SaveLineRequest{
		ImageData: "data:image/png;base64,AAAABBBB",
		RouteID:   "r1",
	})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["error"] == "" {
		t.Error("error body missing generic message")
	}
}

func TestHandleOptimizeLine_UploadFailureSkipsRecordUpdate(t *testing.T) {
	records := newMockRecordStore()
	blobs := newMockBlobStore()
	blobs.uploadErr = errors.New("bucket unavailable")
	record := records.seed(core.TableRoute, "r1")

	w := postJSON(t, HandleOptimizeLine(records, blobs), SaveLineRequest{
		ImageData: flatPNGDataURL(t, 50, 50),
		RouteID:   "r1",
	})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if record.ImageLine != "" {
		t.Error("record updated despite failed upload")
	}
	if records.updates != 0 {
		t.Error("UpdateImageField called despite failed upload")
	}
}

func TestHandleOptimizeLine_UpdateFailureLeavesBlob(t *testing.T) {
	records := newMockRecordStore()
	blobs := newMockBlobStore()
	records.seed(core.TableRoute, "r1")
	records.updateErr = errors.New("record store down")

	w := postJSON(t, HandleOptimizeLine(records, blobs), SaveLineRequest{
		ImageData: flatPNGDataURL(t, 50, 50),
		RouteID:   "r1",
	})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	// Accepted inconsistency window: the blob stays, orphaned until the
	// next save overwrites it.
	if _, ok := blobs.blobs["routes_lines/r1.webp"]; !ok {
		t.Error("uploaded blob missing after failed record update")
	}
}

func TestHandleOptimizeLine_SecondSaveSupersedesFirst(t *testing.T) {
	records := newMockRecordStore()
	blobs := newMockBlobStore()
	records.seed(core.TableRoute, "r1")

	for i := 0; i < 2; i++ {
		w := postJSON(t, HandleOptimizeLine(records, blobs), SaveLineRequest{
			ImageData: flatPNGDataURL(t, 60+i*20, 40),
			RouteID:   "r1",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("save %d: status = %d", i, w.Code)
		}
	}

	if len(blobs.blobs) != 1 {
		t.Errorf("%d live blobs after two saves, want 1", len(blobs.blobs))
	}
	if records.updates != 2 {
		t.Errorf("%d record updates, want 2", records.updates)
	}
}

func TestHandleUploadImage_BasePhoto(t *testing.T) {
	records := newMockRecordStore()
	blobs := newMockBlobStore()
	record := records.seed(core.TableRoute, "r1")

	w := postJSON(t, HandleUploadImage(records, blobs), UploadImageRequest{
		ImageData:      flatPNGDataURL(t, 100, 80),
		RouteID:        "r1",
		OriginalWidth:  200,
		OriginalHeight: 160,
		TableType:      "route",
		HasLine:        false,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, ok := blobs.blobs["routes/r1.webp"]; !ok {
		t.Error("base photo not stored under routes/")
	}
	if record.Image != "https://cdn.test/routes/r1.webp" {
		t.Errorf("image = %q", record.Image)
	}
	if record.ImageLine != "" {
		t.Error("image_line touched by base photo upload")
	}
}

func TestHandleUploadImage_BoulderLine(t *testing.T) {
	records := newMockRecordStore()
	blobs := newMockBlobStore()
	record := records.seed(core.TableBoulder, "b7")

	w := postJSON(t, HandleUploadImage(records, blobs), UploadImageRequest{
		ImageData:      flatPNGDataURL(t, 100, 80),
		RouteID:        "b7",
		OriginalWidth:  200,
		OriginalHeight: 160,
		TableType:      "boulder",
		HasLine:        true,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, ok := blobs.blobs["boulders_lines/b7.webp"]; !ok {
		t.Error("line not stored under boulders_lines/")
	}
	if record.ImageLine != "https://cdn.test/boulders_lines/b7.webp" {
		t.Errorf("image_line = %q", record.ImageLine)
	}
}

func TestHandleUploadImage_UnknownTable(t *testing.T) {
	w := postJSON(t, HandleUploadImage(newMockRecordStore(), newMockBlobStore()), UploadImageRequest{
		ImageData: flatPNGDataURL(t, 10, 10),
		RouteID:   "r1",
		TableType: "crag",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func seedBasePhoto(t *testing.T, blobs *mockBlobStore, key string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode base photo: %v", err)
	}
	blobs.blobs[key] = buf.Bytes()
}

func TestHandleRenderLine_Success(t *testing.T) {
	records := newMockRecordStore()
	blobs := newMockBlobStore()
	record := records.seed(core.TableRoute, "r1")
	seedBasePhoto(t, blobs, "routes/r1.webp", 200, 150)

	w := postJSON(t, HandleRenderLine(records, blobs), RenderLineRequest{
		Points:    []core.Point{{X: 20, Y: 20}, {X: 100, Y: 40}, {X: 150, Y: 120}},
		RouteID:   "r1",
		TableType: "route",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeSaveResponse(t, w)
	if !strings.Contains(resp.URL, "routes_lines/r1.webp") {
		t.Errorf("url = %q", resp.URL)
	}

	data, ok := blobs.blobs["routes_lines/r1.webp"]
	if !ok {
		t.Fatal("rendered line not stored")
	}
	img, err := pipeline.DecodeBytes(data)
	if err != nil {
		t.Fatalf("rendered blob does not decode: %v", err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 150 {
		t.Errorf("rendered dimensions = %dx%d, want 200x150", img.Bounds().Dx(), img.Bounds().Dy())
	}
	if record.ImageLine == "" {
		t.Error("image_line not updated")
	}
}

func TestHandleRenderLine_TooFewPoints(t *testing.T) {
	records := newMockRecordStore()
	blobs := newMockBlobStore()
	records.seed(core.TableRoute, "r1")
	seedBasePhoto(t, blobs, "routes/r1.webp", 100, 100)

	w := postJSON(t, HandleRenderLine(records, blobs), RenderLineRequest{
		Points:  []core.Point{{X: 20, Y: 20}},
		RouteID: "r1",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(blobs.blobs) != 1 {
		t.Error("a blob was written for a rejected line")
	}
}

func TestHandleRenderLine_MissingBasePhoto(t *testing.T) {
	records := newMockRecordStore()
	records.seed(core.TableRoute, "r1")

	w := postJSON(t, HandleRenderLine(records, newMockBlobStore()), RenderLineRequest{
		Points:  []core.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		RouteID: "r1",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
