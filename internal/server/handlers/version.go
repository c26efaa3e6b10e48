package handlers

import (
	"net/http"
	"runtime"
	"sync"

	apperrors "github.com/q99/cloudservices/internal/errors"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
)

// SetVersionInfo records build metadata served by /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	versionInfo = VersionInfo{Version: version, Commit: commit, BuildDate: buildDate}
}

// CurrentVersion returns the recorded build metadata.
func CurrentVersion() VersionInfo {
	versionMu.RLock()
	defer versionMu.RUnlock()
	v := versionInfo
	v.GoVersion = runtime.Version()
	return v
}

// VersionHandler serves build metadata.
func VersionHandler(w http.ResponseWriter, _ *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, CurrentVersion())
}
