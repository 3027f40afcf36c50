package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all autopilot routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/autopilot", func(r chi.Router) {
		r.Post("/simulations", h.HandleRunSimulation)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/rules", h.HandleListRules)
			r.Post("/rules", h.HandleCreateRule)
			r.Post("/kill-switch", h.HandleKillSwitch)
			r.Get("/limits", h.HandleGetLimits)
			r.Put("/limits", h.HandleSetLimits)
			r.Post("/events", h.HandleEvent)
			r.Get("/executions", h.HandleListExecutions)
			r.Get("/audit", h.HandleGetAudit)
			r.Get("/simulations", h.HandleListSimulations)
			r.Delete("/simulations", h.HandleCancelSimulations)
		})

		r.Route("/rules/{ruleID}", func(r chi.Router) {
			r.Get("/", h.HandleGetRule)
			r.Delete("/", h.ruleAction(h.service.DeleteRule))
			r.Post("/approve", h.ruleAction(h.service.ApproveRule))
			r.Post("/reject", h.ruleAction(h.service.RejectRule))
			r.Post("/confirm", h.ruleAction(h.service.ConfirmRule))
			r.Post("/pause", h.ruleAction(h.service.PauseRule))
			r.Post("/resume", h.ruleAction(h.service.ResumeRule))
		})

		r.Route("/executions/{executionID}", func(r chi.Router) {
			r.Get("/", h.HandleGetExecution)
			r.Post("/rollback", h.HandleRollback)
		})

		r.Get("/events/ws", h.HandleEventStream)
	})
}
