package api

import (
	"github.com/go-chi/chi/v5"
)

// Register mounts the API routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/streams", func(r chi.Router) {
			r.Post("/", h.CreateStream)
			r.Get("/", h.ListStreams)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetStream)
				r.Post("/start", h.StartStream)
				r.Post("/end", h.EndStream)
				r.Get("/egress", h.GetEgressState)
				r.Post("/token", h.IssueToken)
				r.Route("/hosts", func(r chi.Router) {
					r.Get("/", h.ListHosts)
					r.Post("/", h.JoinStream)
					r.Delete("/{userID}", h.LeaveStream)
				})
				r.Route("/invites", func(r chi.Router) {
					r.Get("/", h.ListInvites)
					r.Post("/", h.CreateInvite)
				})
				r.Post("/recording", h.UploadRecording)
			})
		})
		r.Delete("/invites/{inviteID}", h.RevokeInvite)
		r.Post("/webhooks/media", h.MediaWebhook)
	})
}
