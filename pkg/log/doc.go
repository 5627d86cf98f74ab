/*
Package log provides structured logging for sari using zerolog.

It wraps zerolog to give every component a structured logger with
component-specific context fields (root_id, db_path, boot_id) and a
configurable level and output writer. Output is JSON when
Config.JSONOutput is set and a human-readable console format otherwise.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("daemon starting")

	watcherLog := log.WithComponent("watcher")
	watcherLog.Info().Str("root_id", rootID).Msg("root registered")

# Context loggers

WithComponent, WithRootID, WithDBPath, and WithBootID all return a child
zerolog.Logger with one extra field attached, matching zerolog's builder
style rather than returning *Logger handles.

Do not log file content or secret-looking values; the indexer's redaction
pass only covers persisted rows, not log lines.
*/
package log
