package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badespider/videoeditor-sub000/config"
	"github.com/badespider/videoeditor-sub000/state"
)

type noopScripts struct{}

func (noopScripts) UploadScript(ctx context.Context, jobID string, content []byte) error { return nil }

func TestRouterRoutes(t *testing.T) {
	manager := state.NewJobManager(state.NewMemoryStore())
	router := NewRecapAPIRouter(&config.Cli{}, manager, noopScripts{})

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/ok"},
		{http.MethodGet, "/api/health"},
		{http.MethodPost, "/api/jobs"},
		{http.MethodGet, "/api/jobs"},
		{http.MethodGet, "/api/jobs/some-id"},
		{http.MethodDelete, "/api/jobs/some-id"},
		{http.MethodPost, "/api/webhooks/memories"},
		{http.MethodGet, "/api/webhooks/memories/test"},
	} {
		handle, params, _ := router.Lookup(route.method, route.path)
		require.NotNil(t, handle, "%s %s not routed", route.method, route.path)
		_ = params
	}
}
