package server

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
)

// Assets are the file trees the server exposes. Models may be nil.
type Assets struct {
	Static fs.FS
	Models fs.FS
}

func Handler(assets Assets, hub *Hub, panel *Panel, store SessionStore, controls Controls) (http.Handler, error) {
	if assets.Static == nil {
		return nil, errors.New("static assets are required")
	}
	mux := http.NewServeMux()

	registerWSRoute(mux, hub, panel)
	registerAPIRoutes(mux, hub, store, controls)

	if assets.Models != nil {
		models := http.FileServer(http.FS(assets.Models))
		mux.Handle("GET /models/", http.StripPrefix("/models/", cacheModels(models)))
	}

	fileServer := http.FileServer(http.FS(assets.Static))
	mux.HandleFunc("/", serveSPA(fileServer))

	return mux, nil
}

// Serve runs h on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web UI listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func cacheModels(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".glb") {
			w.Header().Set("Content-Type", "model/gltf-binary")
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}

func serveSPA(fileServer http.Handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" {
			r.URL.Path = "/"
		} else if !strings.Contains(cleanPath, ".") {
			r.URL.Path = "/index.html"
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
