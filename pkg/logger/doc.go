// Package logger provides a context-aware wrapper around Go's slog package
// adding functional options for configuration, helper attribute constructors
// and transparent injection of values stored in context.Context.
//
// New is the single factory. It picks slog.NewTextHandler or
// slog.NewJSONHandler based on the configured Format and wraps the result
// with LogHandlerDecorator, which runs every registered ContextExtractor
// before delegating to the underlying handler. Attributes attached with
// ContextWithAttrs are always extracted, so background workers can tag all
// records of one unit of work without threading a child logger around.
//
// Helper constructors such as Feature, PlanID, OrderID and UserID live in
// attr.go and keep attribute naming consistent across the codebase.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(logger.EnvProduction, "quotad"),
//	    logger.WithLevelName(cfg.LogLevel),
//	)
//	logger.SetAsDefault(log)
//
//	ctx = logger.ContextWithAttrs(ctx, logger.MessageID(msg.ID))
//	log.InfoContext(ctx, "order applied",
//	    logger.UserID(userID),
//	    logger.PlanID(planID),
//	    logger.Duration(time.Since(start)),
//	)
//
// # Error Handling
//
// Error and Errors produce attributes only when the supplied error value is
// non-nil, allowing calls like:
//
//	log.Info("operation finished", logger.Error(err))
//
// without an additional nil check.
package logger
