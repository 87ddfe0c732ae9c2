// Package logging is the ctxsync CLI logger: zap underneath, with a Trace
// level below Debug, optional OTel log export through otelzap, and per-level
// sampling so that a scan over a large tree cannot flood the terminal.
//
// Entries go to stderr. Command results go to stdout and stay parseable.
//
// Every context-aware method appends correlation fields taken from ctx:
//
//	trace_id, span_id, trace_sampled   active OTel span
//	sync.root                          WithRoot
//	sync.run_id                        WithRunID
//
// A typical command:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(logging.WithRoot(ctx, root), uuid.NewString())
//	logger.Info(ctx, "changes detected", zap.Int("added", len(cs.Added)))
//
// Library packages (scanner, snapshot, filesync, reindex) accept a plain
// *zap.Logger; Underlying hands them one sharing the same cores.
//
// Default sampling per tick:
//
//	trace   first 1, then none
//	debug   first 10, then none
//	info    first 100, then every 10th
//	warn    first 100, then every 100th
//	error+  never sampled
//
// Tests use NewTestLogger, which records every entry without sampling and
// offers AssertLogged, AssertField, AssertTraceCorrelation and
// AssertRunCorrelation.
package logging
