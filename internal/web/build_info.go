// internal/web/build_info.go
package web

import (
    "net/http"
    "runtime"
    "runtime/debug"

    "github.com/gin-gonic/gin"
)

// BuildInfo holds build-time information
type BuildInfo struct {
    Version   string   `json:"version"`
    GitCommit string   `json:"git_commit"`
    BuildTime string   `json:"build_time"`
    GoVersion string   `json:"go_version"`
    GoOS      string   `json:"go_os"`
    GoArch    string   `json:"go_arch"`
    Modules   []Module `json:"modules"`
}

type Module struct {
    Path    string `json:"path"`
    Version string `json:"version"`
    Replace string `json:"replace,omitempty"`
}

// Set at build time with -ldflags "-X netwatch/internal/web.Version=..."
var (
    Version   = "dev"
    GitCommit = "unknown"
    BuildTime = "unknown"
)

// GET /api/version
func (s *Server) getBuildInfo(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"data": BuildInfo{
        Version:   Version,
        GitCommit: GitCommit,
        BuildTime: BuildTime,
        GoVersion: runtime.Version(),
        GoOS:      runtime.GOOS,
        GoArch:    runtime.GOARCH,
        Modules:   moduleInfo(),
    }})
}

func moduleInfo() []Module {
    info, ok := debug.ReadBuildInfo()
    if !ok {
        return []Module{}
    }

    modules := make([]Module, 0, len(info.Deps))
    for _, dep := range info.Deps {
        m := Module{Path: dep.Path, Version: dep.Version}
        if dep.Replace != nil {
            m.Replace = dep.Replace.Path + "@" + dep.Replace.Version
        }
        modules = append(modules, m)
    }
    return modules
}
