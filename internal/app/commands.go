package app

import (
	"context"

	"github.com/solcal/solcal/pkg/command"
)

type importArgs struct {
	Data string `json:"data"`
}

type revertArgs struct {
	UIDs []string `json:"uids"`
}

type discoverArgs struct {
	AccountID string `json:"accountId"`
}

// registerCommands exposes the long-running operations to the command bus so
// the UI can fire them without blocking on a request.
func registerCommands(deps *Dependencies) {
	b := deps.CommandBus

	b.Register("sync", func(ctx context.Context, req command.Request) (any, error) {
		return deps.SyncEngine.Trigger(ctx, req.CalendarID)
	})
	b.Register("syncAll", func(ctx context.Context, req command.Request) (any, error) {
		if err := deps.SyncEngine.SyncAll(ctx); err != nil {
			return nil, err
		}
		return deps.SyncEngine.Statuses(ctx)
	})
	b.Register("import", func(ctx context.Context, req command.Request) (any, error) {
		var args importArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, err
		}
		return deps.EventService.Import(ctx, req.CalendarID, args.Data)
	})
	b.Register("revertImport", func(ctx context.Context, req command.Request) (any, error) {
		var args revertArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, err
		}
		return deps.EventService.RevertImport(ctx, req.CalendarID, args.UIDs)
	})
	b.Register("export", func(ctx context.Context, req command.Request) (any, error) {
		if req.CalendarID == "" {
			return deps.EventService.ExportAll(ctx)
		}
		return deps.EventService.Export(ctx, req.CalendarID)
	})
	b.Register("discover", func(ctx context.Context, req command.Request) (any, error) {
		var args discoverArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, err
		}
		return deps.CalendarProvider.Discover(ctx, args.AccountID)
	})
}
