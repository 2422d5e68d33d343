// Package topos is the thin listing layer around the record store. The
// drawing and save pipeline never goes through here; the gallery UI does.
package topos

import (
	"encoding/json"
	"net/http"

	"cragline/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type CreateRequest struct {
	Name  string `json:"name"`
	Grade string `json:"grade,omitempty"`
}

func HandleList(store core.RecordStore, table core.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := store.List(r.Context(), table)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "table": table}).Error("Failed to list records")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list records"})
			return
		}

		if records == nil {
			records = []*core.TopoRecord{}
		}
		render.JSON(w, r, records)
	}
}

func HandleGet(store core.RecordStore, table core.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Record id is required"})
			return
		}

		record, err := store.Get(r.Context(), table, id)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "table": table, "id": id}).Warn("Failed to get record")
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Record not found"})
			return
		}

		render.JSON(w, r, record)
	}
}

func HandleCreate(store core.RecordStore, table core.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		if req.Name == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Name is required"})
			return
		}

		record := &core.TopoRecord{
			ID:    ulid.Make().String(),
			Name:  req.Name,
			Grade: req.Grade,
		}
		if err := store.Save(r.Context(), table, record); err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "table": table}).Error("Failed to create record")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create record"})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, record)
	}
}
