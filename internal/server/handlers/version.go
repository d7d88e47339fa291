package handlers

import (
	"net/http"
	"runtime"
)

// VersionResponse is the body returned by GET /version.
type VersionResponse struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

// VersionHandler serves GET /version. The reported version comes from the
// global health manager so serve wires it once.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	version := "dev"
	if m := GetHealthManager(); m != nil {
		version = m.Version()
	}

	writeJSON(w, http.StatusOK, VersionResponse{
		Service:   "gostudio",
		Version:   version,
		GoVersion: runtime.Version(),
	})
}
