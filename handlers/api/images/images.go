// Package images exposes the image save endpoints: the fixed-quality
// route-line path, the size-budgeted general upload path, and a server-side
// render of a point sequence. All three share one persist step: upload the
// blob, then update the record field, strictly in that order.
package images

import (
	"context"
	"encoding/json"
	"net/http"

	"cragline/core"
	"cragline/editor"
	"cragline/pipeline"
	"cragline/render"

	chirender "github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	SaveLineRequest struct {
		ImageData      string `json:"imageData"`
		RouteID        string `json:"routeId"`
		OriginalWidth  int    `json:"originalWidth,omitempty"`
		OriginalHeight int    `json:"originalHeight,omitempty"`
		TableType      string `json:"tableType,omitempty"`
	}

	UploadImageRequest struct {
		ImageData      string `json:"imageData"`
		RouteID        string `json:"routeId"`
		OriginalWidth  int    `json:"originalWidth"`
		OriginalHeight int    `json:"originalHeight"`
		TableType      string `json:"tableType"`
		HasLine        bool   `json:"hasLine"`
	}

	RenderLineRequest struct {
		Points    []core.Point `json:"points"`
		RouteID   string       `json:"routeId"`
		TableType string       `json:"tableType,omitempty"`
	}

	SaveResponse struct {
		Success bool   `json:"success"`
		URL     string `json:"url"`
		Message string `json:"message,omitempty"`
	}
)

// HandleOptimizeLine saves a client-captured line composite. Single encode
// at fixed quality; updates the record's image_line field.
func HandleOptimizeLine(records core.RecordStore, blobs core.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveLineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, r, "Invalid request body")
			return
		}
		if req.RouteID == "" || req.ImageData == "" {
			badRequest(w, r, "routeId and imageData are required")
			return
		}
		table, err := core.ParseTable(req.TableType)
		if err != nil {
			badRequest(w, r, "Unknown table type")
			return
		}

		log := logrus.WithFields(logrus.Fields{
			"record_id": req.RouteID,
			"table":     table,
		})

		res, err := pipeline.Process(req.ImageData, req.OriginalWidth, req.OriginalHeight, pipeline.DefaultFixedPolicy())
		if err != nil {
			log.WithError(err).Error("Failed to process line image")
			serverError(w, r, "Failed to process image")
			return
		}

		url, err := persist(r.Context(), records, blobs, table, req.RouteID, true, res)
		if err != nil {
			log.WithError(err).Error("Failed to persist line image")
			serverError(w, r, "Failed to save image")
			return
		}

		log.WithFields(logrus.Fields{"size": res.Size(), "quality": res.Quality}).Info("Line image saved")
		chirender.JSON(w, r, SaveResponse{Success: true, URL: url, Message: "Line image saved"})
	}
}

// HandleUploadImage saves a base photo or line image under the size-budgeted
// encode loop. hasLine selects both the storage folder and whether the
// image or image_line field is updated.
func HandleUploadImage(records core.RecordStore, blobs core.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UploadImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, r, "Invalid request body")
			return
		}
		if req.RouteID == "" || req.ImageData == "" {
			badRequest(w, r, "routeId and imageData are required")
			return
		}
		table, err := core.ParseTable(req.TableType)
		if err != nil {
			badRequest(w, r, "Unknown table type")
			return
		}

		log := logrus.WithFields(logrus.Fields{
			"record_id": req.RouteID,
			"table":     table,
			"has_line":  req.HasLine,
		})

		res, err := pipeline.Process(req.ImageData, req.OriginalWidth, req.OriginalHeight, pipeline.DefaultBudgetPolicy())
		if err != nil {
			log.WithError(err).Error("Failed to process uploaded image")
			serverError(w, r, "Failed to process image")
			return
		}

		url, err := persist(r.Context(), records, blobs, table, req.RouteID, req.HasLine, res)
		if err != nil {
			log.WithError(err).Error("Failed to persist uploaded image")
			serverError(w, r, "Failed to save image")
			return
		}

		log.WithFields(logrus.Fields{
			"size":    res.Size(),
			"quality": res.Quality,
			"width":   res.Width,
			"height":  res.Height,
		}).Info("Image saved")
		chirender.JSON(w, r, SaveResponse{Success: true, URL: url})
	}
}

// HandleRenderLine rasterizes a point sequence server-side: the stored base
// photo is fetched, the line composited over it, and the result saved like
// an optimize-line call. The points run through a drawing session so the
// same rules apply as in the interactive editor.
func HandleRenderLine(records core.RecordStore, blobs core.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RenderLineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, r, "Invalid request body")
			return
		}
		if req.RouteID == "" {
			badRequest(w, r, "routeId is required")
			return
		}
		table, err := core.ParseTable(req.TableType)
		if err != nil {
			badRequest(w, r, "Unknown table type")
			return
		}

		log := logrus.WithFields(logrus.Fields{
			"record_id": req.RouteID,
			"table":     table,
			"points":    len(req.Points),
		})

		path, err := commitPath(table, req.RouteID, req.Points)
		if err != nil {
			badRequest(w, r, "A line needs at least two points")
			return
		}

		baseKey := core.BlobKey(core.CategoryFor(table, false), req.RouteID)
		baseData, err := blobs.Download(r.Context(), baseKey)
		if err != nil {
			log.WithError(err).Warn("Base image not found for render")
			badRequest(w, r, "No base image stored for this record")
			return
		}
		base, err := pipeline.DecodeBytes(baseData)
		if err != nil {
			log.WithError(err).Error("Failed to decode stored base image")
			serverError(w, r, "Failed to process image")
			return
		}

		composite := render.Composite(base, path, render.Options{
			Style:    render.DefaultStyle(),
			ShowLine: true,
		})

		b := base.Bounds()
		res, err := pipeline.ProcessImage(composite, b.Dx(), b.Dy(), pipeline.DefaultFixedPolicy())
		if err != nil {
			log.WithError(err).Error("Failed to encode rendered line")
			serverError(w, r, "Failed to process image")
			return
		}

		url, err := persist(r.Context(), records, blobs, table, req.RouteID, true, res)
		if err != nil {
			log.WithError(err).Error("Failed to persist rendered line")
			serverError(w, r, "Failed to save image")
			return
		}

		log.WithField("size", res.Size()).Info("Rendered line saved")
		chirender.JSON(w, r, SaveResponse{Success: true, URL: url, Message: "Line rendered and saved"})
	}
}

// commitPath replays the points through a drawing session, so the endpoint
// rejects exactly what the interactive editor would reject.
func commitPath(table core.Table, recordID string, points []core.Point) (core.Path, error) {
	sess := editor.NewSession()
	sess.Select(table, recordID)
	sess.ImageLoaded("")
	if err := sess.EnterDrawing(); err != nil {
		return nil, err
	}
	for _, p := range points {
		if err := sess.AddPoint(p); err != nil {
			return nil, err
		}
	}
	if err := sess.FinishLine(); err != nil {
		return nil, err
	}
	return sess.FinishedPath(), nil
}

// persist uploads the blob and then updates the record field, in that
// order. A failed update after a successful upload leaves the blob behind;
// the next save overwrites it at the same key.
func persist(ctx context.Context, records core.RecordStore, blobs core.BlobStore, table core.Table, recordID string, hasLine bool, res *pipeline.Result) (string, error) {
	key := core.BlobKey(core.CategoryFor(table, hasLine), recordID)

	if err := blobs.Upload(ctx, key, res.Data, pipeline.ContentType); err != nil {
		return "", err
	}

	url := blobs.PublicURL(key)
	if err := records.UpdateImageField(ctx, table, recordID, core.FieldFor(hasLine), url); err != nil {
		return "", err
	}

	// The key is overwritten in place on every save. The canonical URL is
	// returned and stored as-is; readers append a `?t=<ms>` query timestamp
	// when fetching, to defeat stale caches.
	return url, nil
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	chirender.Status(r, http.StatusBadRequest)
	chirender.JSON(w, r, map[string]string{"error": msg})
}

func serverError(w http.ResponseWriter, r *http.Request, msg string) {
	chirender.Status(r, http.StatusInternalServerError)
	chirender.JSON(w, r, map[string]string{"error": msg})
}
