package api

import (
	"net/http"

	"github.com/onnwee/discovery/internal/auth"
)

// Routes groups the handlers mounted by NewRouter. Nil handlers leave
// their routes unmounted.
type Routes struct {
	Health   *HealthHandlers
	Feed     *FeedHandlers
	Fairness *FairnessHandlers
	Stream   *ReportStreamHandlers
	Jobs     *JobHandlers
	Density  *DensityHandlers
	Flags    *FlagHandlers
	Audit    *AuditHandlers
	// Metrics serves the Prometheus scrape endpoint.
	Metrics http.Handler
}

// NewRouter mounts the viewer routes unauthenticated and the /admin routes
// behind role checks. Flag review is open to reviewers; everything else
// under /admin requires the admin role.
func NewRouter(routes Routes, jwt *auth.JWTService) *http.ServeMux {
	mux := http.NewServeMux()
	admin := auth.RequireRole(jwt, auth.RoleAdmin)
	reviewer := auth.RequireRole(jwt, auth.RoleReviewer)

	if h := routes.Health; h != nil {
		mux.HandleFunc("/health", h.Health)
		mux.HandleFunc("/ready", h.Ready)
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}

	if h := routes.Feed; h != nil {
		mux.HandleFunc("/feed", h.GetFeed)
		mux.HandleFunc("/viewers/", h.Viewer)
		mux.HandleFunc("/views", h.RecordView)
	}

	if h := routes.Fairness; h != nil {
		mux.Handle("/admin/fairness/report", admin(http.HandlerFunc(h.GetLatestReport)))
		mux.Handle("/admin/fairness/reports", admin(http.HandlerFunc(h.Reports)))
		mux.Handle("/admin/fairness/reports/", admin(http.HandlerFunc(h.Reports)))
		mux.Handle("/admin/fairness/audit", admin(http.HandlerFunc(h.TriggerAudit)))
	}
	if h := routes.Stream; h != nil {
		mux.Handle("/admin/fairness/reports/stream", admin(http.HandlerFunc(h.Subscribe)))
	}
	if h := routes.Jobs; h != nil {
		mux.Handle("/admin/jobs", admin(http.HandlerFunc(h.ListJobs)))
		mux.Handle("/admin/jobs/", admin(http.HandlerFunc(h.RunJob)))
	}
	if h := routes.Density; h != nil {
		mux.Handle("/admin/density", admin(http.HandlerFunc(h.GetStats)))
		mux.Handle("/admin/density/", admin(http.HandlerFunc(h.GetCreator)))
	}
	if h := routes.Flags; h != nil {
		mux.Handle("/admin/flags", reviewer(http.HandlerFunc(h.ListFlags)))
		mux.Handle("/admin/flags/", reviewer(http.HandlerFunc(h.Flag)))
	}
	if h := routes.Audit; h != nil {
		mux.Handle("/admin/audit", admin(http.HandlerFunc(h.Export)))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeCodedError(w, r, ErrCodeNotFound, "The requested resource was not found")
	})
	return mux
}
