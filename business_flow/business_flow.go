// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/amirphl/broadcast-hub/utils"
)

// requestLogger returns the process logger annotated with the request-scoped
// values handlers put into ctx
func requestLogger(ctx context.Context) zerolog.Logger {
	l := log.With()
	if rid, ok := ctx.Value(utils.RequestIDKey).(string); ok && rid != "" {
		l = l.Str("request_id", rid)
	}
	if endpoint, ok := ctx.Value(utils.EndpointKey).(string); ok && endpoint != "" {
		l = l.Str("endpoint", endpoint)
	}
	if principal, ok := ctx.Value(utils.PrincipalKey).(string); ok && principal != "" {
		l = l.Str("principal", principal)
	}
	return l.Logger()
}
