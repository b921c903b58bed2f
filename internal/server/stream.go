package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"doerline/internal/logging"
	"doerline/internal/realtime"
)

const streamHeartbeat = 25 * time.Second

// registerStream serves GET /projects/{id}/stream as server-sent events. The
// subscription is bound to the request: it ends when the client goes away.
func registerStream(r chi.Router, cfg Config) {
	r.Get(path.Join(cfg.BasePath, "projects", "{id}", "stream"), func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			respondStatusError(w, herr)
			return
		}
		if cfg.Hub == nil {
			respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "backend_unavailable", "realtime is not enabled", nil))
			return
		}
		projectID := chi.URLParam(req, "id")
		var topic realtime.Topic
		switch req.URL.Query().Get("topic") {
		case "", "project":
			topic = realtime.ProjectTopic(projectID)
		case "chat":
			topic = realtime.ChatTopic(projectID)
		default:
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "topic must be project or chat", nil))
			return
		}
		if err := cfg.Engine.CanSubscribe(ctx, actor, projectID); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}
		sub, err := cfg.Hub.Subscribe(ctx, topic)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		defer sub.Close()

		logger := logging.WithRequest(ctx, cfg.Logger).With(zap.String("topic", string(topic)), zap.String("actor_id", actor.ID))
		logger.Debug("stream opened")
		defer logger.Debug("stream closed")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, ": subscribed %s\n\n", topic)
		flusher.Flush()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				data, err := json.Marshal(msg.Event)
				if err != nil {
					logger.Warn("encode stream event", zap.Error(err))
					continue
				}
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", msg.Event.ID, msg.Event.Type, data)
				flusher.Flush()
			}
		}
	})
}
