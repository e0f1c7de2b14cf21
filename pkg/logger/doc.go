// Package logger provides structured logging for dlqueue on top of zerolog.
//
// Components take a Logger at construction and fall back to the global one
// via OrDefault when given nil:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "queue")
//	log.InfoWithFields("Job admitted", map[string]interface{}{
//	    "job_id": id,
//	    "active": 3,
//	})
//
// Console output is colored unless logging.no_color is set; logging.format
// "json" switches the console to raw JSON lines. logging.file appends to a
// file in addition to the console, or instead of it with logging.file_only.
//
// Tests use NewTestLogger to capture messages or NewNopLogger to discard them.
package logger
