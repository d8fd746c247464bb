package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/badespider/videoeditor-sub000/config"
	"github.com/badespider/videoeditor-sub000/handlers"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/middleware"
	"github.com/badespider/videoeditor-sub000/state"
)

func ListenAndServe(ctx context.Context, cli *config.Cli, manager *state.JobManager, scripts handlers.ScriptStore) error {
	addr := fmt.Sprintf("0.0.0.0:%d", cli.Port)
	router := NewRecapAPIRouter(cli, manager, scripts)
	server := http.Server{Addr: addr, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoJobID(
		"Starting recap API",
		"version", config.Version,
		"host", addr,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewRecapAPIRouter(cli *config.Cli, manager *state.JobManager, scripts handlers.ScriptStore) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest(config.Logger)
	withCORS := middleware.AllowCORS()

	recapHandlers := &handlers.RecapHandlersCollection{Config: cli, Manager: manager, Scripts: scripts}
	webhookHandlers := &handlers.WebhookHandlersCollection{Config: cli, Manager: manager}

	// Simple endpoint for load balancer healthchecks
	router.GET("/ok", withLogging(recapHandlers.Ok()))
	router.GET("/api/health", withLogging(withCORS(recapHandlers.Healthcheck())))

	// Public job API
	router.POST("/api/jobs", withLogging(withCORS(recapHandlers.CreateJob())))
	router.GET("/api/jobs", withLogging(withCORS(recapHandlers.ListJobs())))
	router.GET("/api/jobs/:id", withLogging(withCORS(recapHandlers.GetJob())))
	router.DELETE("/api/jobs/:id", withLogging(withCORS(recapHandlers.DeleteJob())))

	// Callbacks from the understanding service
	router.POST("/api/webhooks/memories", withLogging(webhookHandlers.MemoriesCallback()))
	router.GET("/api/webhooks/memories/test", withLogging(webhookHandlers.MemoriesCallbackTest()))

	return router
}
