package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/metrics"
)

const maxLaunchBytes = 4 << 20

// launchDetail is the full view of one catalog entry.
type launchDetail struct {
	launch.Summary
	Events        []launch.Event        `json:"events"`
	Notifications []launch.Notification `json:"notifications"`
	Waypoints     [2]int                `json:"waypoints"` // per stage
}

// listLaunchesHandler serves the catalog, ordered by liftoff.
// GET /api/v1/launches
func listLaunchesHandler(catalog *launch.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"launches":  catalog.List(),
			"updatedAt": catalog.UpdatedAt(),
		})
	}
}

// getLaunchHandler serves one launch's summary and timeline.
// GET /api/v1/launches/{name}
func getLaunchHandler(catalog *launch.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, err := catalog.Get(r.PathValue("name"))
		if errors.Is(err, launch.ErrNotFound) {
			writeError(w, http.StatusNotFound, "launch not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, newLaunchDetail(def))
	}
}

// putLaunchHandler registers or replaces a launch from a JSON or YAML body.
// The name in the path wins over any name in the body. Sessions already
// playing the old definition keep it until they are re-initialized.
// PUT /api/v1/launches/{name}
func putLaunchHandler(logger *slog.Logger, catalog *launch.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := launch.FormatJSON
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mt, _, err := mime.ParseMediaType(ct)
			switch {
			case err != nil:
				writeError(w, http.StatusUnsupportedMediaType, "invalid Content-Type")
				return
			case mt == "application/json":
			case mt == "application/yaml", mt == "application/x-yaml", mt == "text/yaml":
				format = launch.FormatYAML
			default:
				writeError(w, http.StatusUnsupportedMediaType, "launch must be application/json or application/yaml")
				return
			}
		}

		def, err := launch.Parse(http.MaxBytesReader(w, r.Body, maxLaunchBytes), format)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		def.Name = r.PathValue("name")

		_, getErr := catalog.Get(def.Name)
		status := http.StatusCreated
		if getErr == nil {
			status = http.StatusOK
		}
		catalog.Add(def)
		metrics.SetLaunchCatalogCount(catalog.Len())
		logger.Info("launch registered", "launch", def.Name, "replaced", status == http.StatusOK)
		writeJSON(w, status, newLaunchDetail(def))
	}
}

func newLaunchDetail(def *launch.Definition) launchDetail {
	detail := launchDetail{
		Summary:       def.Summarize(),
		Events:        def.Events,
		Notifications: def.Notifications,
	}
	for _, st := range launch.Stages {
		detail.Waypoints[st-1] = len(def.Waypoints(st))
	}
	return detail
}
