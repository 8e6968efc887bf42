package observability

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/reqgateway/gateway/internal/logging"
)

type AsyncContextOptions struct {
	Logger    *slog.Logger
	Component string
	Worker    string
	Subject   string
	Extra     []slog.Attr
}

func AsyncContext(opts AsyncContextOptions) context.Context {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, 3+len(opts.Extra))
	if opts.Component != "" {
		attrs = append(attrs, slog.String("component", opts.Component))
	}
	if opts.Worker != "" {
		attrs = append(attrs, slog.String("worker", opts.Worker))
	}
	if opts.Subject != "" {
		attrs = append(attrs, slog.String("subject", opts.Subject))
	}
	if len(opts.Extra) > 0 {
		for _, attr := range opts.Extra {
			attrs = append(attrs, attr)
		}
	}
	return logging.WithLogger(context.Background(), logger.With(attrs...))
}

// CaptureWorkerException reports a panic or fatal error from a background
// goroutine to Sentry, tagged by the listener subject it was servicing.
// Used by listener.Manager to cover the one goroutine shape the HTTP
// middleware's panic recovery never sees.
func CaptureWorkerException(ctx context.Context, component, worker, subject string, err error) {
	if err == nil {
		return
	}
	if hub := sentry.CurrentHub(); hub == nil || hub.Client() == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		if component != "" {
			scope.SetTag("component", component)
		}
		if worker != "" {
			scope.SetTag("worker", worker)
		}
		if subject != "" {
			scope.SetTag("subject", subject)
		}
		scope.SetContext("worker", map[string]any{
			"component": component,
			"worker":    worker,
			"subject":   subject,
		})
		sentry.CaptureException(err)
	})
}
