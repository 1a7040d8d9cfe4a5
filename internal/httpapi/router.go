// Package httpapi is the thin HTTP boundary in front of the build
// queue: submission, status and log polling, live log streaming, and
// artifact download.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BenRachmiel/e4e/internal/configcache"
	"github.com/BenRachmiel/e4e/internal/jobs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SubmitRequest is the build submission body. Config carries a base64
// tar archive and is only required when the hash is not cached yet.
type SubmitRequest struct {
	Packages   []string `json:"packages"`
	ConfigHash string   `json:"config_hash"`
	Config     string   `json:"config,omitempty"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

// SubmitResponse reports the created job, or signals that the server
// needs the configuration content before it can accept one.
type SubmitResponse struct {
	BuildID    string `json:"build_id,omitempty"`
	Status     string `json:"status"`
	NeedConfig bool   `json:"need_config,omitempty"`
}

// StatusResponse is a job view plus a short log tail.
type StatusResponse struct {
	jobs.View
	LogTail string `json:"log_tail"`
}

type router struct {
	queue    *jobs.Queue
	cache    *configcache.Cache
	streamer *jobs.LogStreamer
}

// NewRouter builds the HTTP handler around the queue and config cache.
func NewRouter(queue *jobs.Queue, cache *configcache.Cache, streamer *jobs.LogStreamer) http.Handler {
	r := &router{queue: queue, cache: cache, streamer: streamer}
	m := http.NewServeMux()
	m.HandleFunc("GET /healthz", r.handleHealth)
	m.HandleFunc("POST /builds", r.handleSubmit)
	m.HandleFunc("GET /builds/{id}", r.handleStatus)
	m.HandleFunc("GET /builds/{id}/logs", r.handleLogs)
	m.HandleFunc("GET /builds/{id}/logs/stream", r.handleLogStream)
	m.HandleFunc("GET /builds/{id}/artifact", r.handleArtifact)
	m.HandleFunc("GET /queue", r.handleQueue)
	m.Handle("GET /metrics", promhttp.Handler())
	return logging(m)
}

func (r *router) handleSubmit(w http.ResponseWriter, req *http.Request) {
	var body SubmitRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(body.Packages) == 0 {
		respondWithError(w, http.StatusBadRequest, "packages required")
		return
	}
	if body.ConfigHash == "" {
		respondWithError(w, http.StatusBadRequest, "config_hash required")
		return
	}

	if !r.cache.Has(body.ConfigHash) {
		if body.Config == "" {
			respondWithJSON(w, http.StatusOK, SubmitResponse{
				Status:     "need_config",
				NeedConfig: true,
			})
			return
		}
		archive, err := base64.StdEncoding.DecodeString(body.Config)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "config is not valid base64")
			return
		}
		if err := r.cache.Store(body.ConfigHash, archive); err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid config tarball: %v", err))
			return
		}
	}

	job := jobs.NewJob(body.Packages, body.ConfigHash, r.cache.Path(body.ConfigHash), body.WebhookURL)
	if err := r.queue.Submit(job); err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			respondWithError(w, http.StatusServiceUnavailable, "build queue is full")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to queue build")
		return
	}
	respondWithJSON(w, http.StatusAccepted, SubmitResponse{
		BuildID: job.ID(),
		Status:  string(jobs.StatusQueued),
	})
}

func (r *router) handleStatus(w http.ResponseWriter, req *http.Request) {
	job, ok := r.queue.Get(req.PathValue("id"))
	if !ok {
		respondWithError(w, http.StatusNotFound, "build not found")
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{
		View:    job.Snapshot(),
		LogTail: job.Log().Tail(50),
	})
}

func (r *router) handleLogs(w http.ResponseWriter, req *http.Request) {
	job, ok := r.queue.Get(req.PathValue("id"))
	if !ok {
		respondWithError(w, http.StatusNotFound, "build not found")
		return
	}
	lines := 100
	if v := req.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		lines = n
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"log": job.Log().Tail(lines)})
}

func (r *router) handleLogStream(w http.ResponseWriter, req *http.Request) {
	job, ok := r.queue.Get(req.PathValue("id"))
	if !ok {
		respondWithError(w, http.StatusNotFound, "build not found")
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Error("failed to upgrade connection", "error", err)
		return
	}

	// Replay what the build has logged so far and register for live
	// chunks while the buffer's append lock is held, so nothing written
	// between the two is lost or delivered twice.
	subscribed := false
	job.Log().ReplayTo(func(snapshot []byte) {
		if len(snapshot) > 0 {
			if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
				conn.Close()
				return
			}
		}
		r.streamer.Subscribe(job.ID(), conn)
		subscribed = true
	})
	if !subscribed {
		return
	}
	defer r.streamer.Unsubscribe(job.ID(), conn)

	for {
		if _, _, err := conn.NextReader(); err != nil {
			conn.Close()
			break
		}
	}
}

func (r *router) handleArtifact(w http.ResponseWriter, req *http.Request) {
	job, ok := r.queue.Get(req.PathValue("id"))
	if !ok {
		respondWithError(w, http.StatusNotFound, "build not found")
		return
	}
	v := job.Snapshot()
	if v.Status != jobs.StatusComplete {
		respondWithError(w, http.StatusConflict, fmt.Sprintf("build not complete, current status: %s", v.Status))
		return
	}
	if v.ArtifactPath == "" {
		respondWithError(w, http.StatusNotFound, "build produced no artifact")
		return
	}
	w.Header().Set("content-type", "application/gzip")
	w.Header().Set("content-disposition", fmt.Sprintf("attachment; filename=binpkgs-%s.tar.gz", v.ID))
	http.ServeFile(w, req, v.ArtifactPath)
}

func (r *router) handleQueue(w http.ResponseWriter, req *http.Request) {
	type summary struct {
		BuildID  string      `json:"build_id"`
		Status   jobs.Status `json:"status"`
		Packages []string    `json:"packages"`
	}
	all := r.queue.Jobs()
	summaries := make([]summary, 0, len(all))
	for _, job := range all {
		v := job.Snapshot()
		summaries = append(summaries, summary{BuildID: v.ID, Status: v.Status, Packages: v.Packages})
	}
	currentID := ""
	if cur := r.queue.Current(); cur != nil {
		currentID = cur.ID()
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"queue_size":    r.queue.Depth(),
		"current_build": currentID,
		"builds":        summaries,
	})
}

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"queue_size": r.queue.Depth(),
	})
}

func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}
