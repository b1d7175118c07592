package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/intunectl/intunectl/internal/intune"
)

// Build metadata, set from main.
var (
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
)

// ExecutorInfo reports the retry and pacing limits requests run under.
type ExecutorInfo struct {
	MaxRetries     int   `json:"max_retries"`
	MaxAuthRetries int   `json:"max_auth_retries"`
	PacingMinMS    int64 `json:"pacing_min_ms"`
	PacingMaxMS    int64 `json:"pacing_max_ms"`
}

type versionState struct {
	identity *appidentity.Identity
	endpoint string
	executor *ExecutorInfo
}

var served atomic.Pointer[versionState]

func init() {
	served.Store(&versionState{})
}

func updateServed(fn func(s *versionState)) {
	for {
		old := served.Load()
		next := *old
		fn(&next)
		if served.CompareAndSwap(old, &next) {
			return
		}
	}
}

func SetVersionInfo(version, commit, buildDate string) {
	AppVersion, AppCommit, AppBuildDate = version, commit, buildDate
}

func SetAppIdentity(identity *appidentity.Identity) {
	updateServed(func(s *versionState) { s.identity = identity })
}

// SetGraphInfo records the Graph base URL and executor limits reported by
// /version. A nil executor omits the section.
func SetGraphInfo(baseURL string, executor *ExecutorInfo) {
	updateServed(func(s *versionState) {
		s.endpoint = baseURL
		s.executor = executor
	})
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	App          AppInfo       `json:"app"`
	Graph        GraphInfo     `json:"graph"`
	Executor     *ExecutorInfo `json:"executor,omitempty"`
	Dependencies DepInfo       `json:"dependencies"`
	Runtime      RuntimeInfo   `json:"runtime"`
}

type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// GraphInfo describes the Graph surface this build talks to.
type GraphInfo struct {
	Endpoint    string   `json:"endpoint"`
	PolicyTypes []string `json:"policy_types"`
}

type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

func (s *versionState) name() string {
	if s.identity != nil && s.identity.BinaryName != "" {
		return s.identity.BinaryName
	}
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "unknown"
}

func currentVersion() VersionResponse {
	state := served.Load()
	endpoint := state.endpoint
	if endpoint == "" {
		endpoint = intune.DefaultBaseURL
	}
	deps := crucible.GetVersion()
	return VersionResponse{
		App: AppInfo{
			Name:      state.name(),
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Graph:        GraphInfo{Endpoint: endpoint, PolicyTypes: intune.TypeNames()},
		Executor:     state.executor,
		Dependencies: DepInfo{Gofulmen: deps.Gofulmen, Crucible: deps.Crucible},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	}
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(currentVersion())
}
