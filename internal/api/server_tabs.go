package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/viewcast/internal/tabs"
)

func registerTabHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status  string `json:"status"`
			Backend string `json:"backend"`
			Tabs    int    `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health-check", Method: http.MethodGet, Path: "/healthz", Summary: "Liveness and backend kind", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Backend = string(svc.Kind())
			out.Body.Tabs = len(svc.Tabs())
			return out, nil
		})

	type listTabsOutput struct {
		Body struct {
			Tabs        []tabs.Tab `json:"tabs"`
			ActiveTabID int64      `json:"active_tab_id"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/tabs", Summary: "List tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			out := &listTabsOutput{}
			out.Body.Tabs = svc.Tabs()
			if active, ok := svc.ActiveTab(); ok {
				out.Body.ActiveTabID = active.ID
			}
			return out, nil
		})

	type openTabOutput struct {
		Body struct {
			Status string `json:"status"`
			TabID  int64  `json:"tab_id"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "open-tab", Method: http.MethodGet, Path: "/tabs/new", Summary: "Open a tab and switch to it", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			URL string `query:"url" doc:"Address to load. Empty opens the home page."`
		}) (*openTabOutput, error) {
			id, err := svc.OpenTab(ctx, input.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &openTabOutput{}
			out.Body.Status = "opened"
			out.Body.TabID = id
			return out, nil
		})

	type tabMutationOutput struct {
		Body struct {
			Status      string `json:"status"`
			ActiveTabID int64  `json:"active_tab_id"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "close-tab", Method: http.MethodGet, Path: "/tabs/close", Summary: "Close a tab", Description: "Closes the tab and activates its neighbor. The last remaining tab cannot be closed.", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			ID int64 `query:"id" required:"true"`
		}) (*tabMutationOutput, error) {
			if err := svc.CloseTab(ctx, input.ID); err != nil {
				return nil, mapErr(err)
			}
			out := &tabMutationOutput{}
			out.Body.Status = "closed"
			if active, ok := svc.ActiveTab(); ok {
				out.Body.ActiveTabID = active.ID
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "switch-tab", Method: http.MethodGet, Path: "/tabs/switch", Summary: "Switch the active tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			ID int64 `query:"id" required:"true"`
		}) (*tabMutationOutput, error) {
			if err := svc.SwitchTab(ctx, input.ID); err != nil {
				return nil, mapErr(err)
			}
			out := &tabMutationOutput{}
			out.Body.Status = "switched"
			out.Body.ActiveTabID = input.ID
			return out, nil
		})

	type tabDetailOutput struct {
		Body struct {
			ID        int64  `json:"id"`
			URL       string `json:"url"`
			EngineURL string `json:"engine_url,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/tabs/{tab_id}", Summary: "Inspect one tab", Description: "Returns the stored address next to what the engine reports, which may lag during a load.", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			TabID int64 `path:"tab_id"`
		}) (*tabDetailOutput, error) {
			stored, err := svc.CurrentURL(input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabDetailOutput{}
			out.Body.ID = input.TabID
			out.Body.URL = stored
			engineURL, err := svc.EngineURL(ctx, input.TabID)
			if err != nil {
				slog.Debug("tab detail engine url unavailable", "tab_id", input.TabID, "error", err)
			} else {
				out.Body.EngineURL = engineURL
			}
			return out, nil
		})
}
