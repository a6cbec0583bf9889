package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleJobStream is a supplemented feature (SPEC_FULL.md): pushes
// progress(jobId) snapshots over a websocket until the job reaches a
// terminal state, instead of requiring the client to poll job-status.
// Mirrors the outbound client's use of nhooyr.io/websocket for the server
// side of the same protocol.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := s.jobs.GetJob(ctx, jobID)
			if err != nil {
				_ = wsjson.Write(ctx, conn, errorResponse{Error: "not_found", Message: err.Error()})
				return
			}
			progress, err := s.jobs.Progress(ctx, jobID)
			if err != nil {
				_ = wsjson.Write(ctx, conn, errorResponse{Error: "internal", Message: err.Error()})
				return
			}
			if err := wsjson.Write(ctx, conn, jobStatusResponse{
				Job: job,
				Progress: jobmanagerProgress{
					Total:           progress.Total,
					Processed:       progress.Processed,
					Failed:          progress.Failed,
					Remaining:       progress.Remaining,
					Processing:      progress.Processing,
					PercentComplete: progress.PercentComplete,
					ETA:             progress.ETA,
				},
			}); err != nil {
				return
			}
			if job.Status.IsTerminal() {
				conn.Close(websocket.StatusNormalClosure, "job reached terminal state")
				return
			}
		}
	}
}
