// Package web embeds the page that the monitoring server serves.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
)

// DirEnv names a directory that replaces the embedded page, so that the page
// can be edited without rebuilding the binary.
const DirEnv = "COSIM_MONITOR_DIR"

//go:embed dist/*
var embedded embed.FS

// Assets returns the files of the monitoring page. The directory in DirEnv
// wins over the embedded copy when it exists.
func Assets() http.FileSystem {
	if dir := os.Getenv(DirEnv); dir != "" {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			log.WithField("dir", dir).Info("serving the monitoring page from disk")
			return http.FS(os.DirFS(dir))
		}

		log.WithField("dir", dir).
			Warn("monitoring page directory not found, using the embedded page")
	}

	dist, err := fs.Sub(embedded, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(dist)
}
