package shim

import (
	"context"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

// Run parses args, connects to the upstream MCP server and serves the shim
// until the CLI-facing transport shuts down.
func Run(args []string) error {
	options := &Options{}
	_, err := flags.ParseArgs(options, args)
	if err != nil {
		return err
	}
	// Standard output carries the stdio JSON-RPC stream, so logs go to stderr.
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	service, err := New(ctx, options, logger)
	if err != nil {
		return err
	}
	if options.Serve == "http" {
		srv, err := service.HTTP(ctx, options.HTTPAddr)
		if err != nil {
			return err
		}
		return srv.ListenAndServe()
	}
	srv, err := service.Stdio(ctx)
	if err != nil {
		return err
	}
	return srv.ListenAndServe()
}
