// Package logger provides structured logging for flowkit using zerolog.
//
// Engine objects (pipelines, schedulers, registries) accept an optional
// *Logger; when none is given they log nowhere. Loggers are scoped with
// component and process fields so a multi-process run can be filtered per
// process.
//
// # Configuration
//
//	logger:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.NewDefault("flowrun").WithComponent("scheduler")
//	log.Info("run started", logger.Fields("processes", 4))
package logger
