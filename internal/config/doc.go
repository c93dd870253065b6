// Package config defines configuration structures for the batchdl CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (BATCHDL_ prefix)
//   - YAML configuration file
//
// Flags win over the environment, which wins over the file.
//
// # File Format
//
//	workers: 8
//	id_column: eid
//	fetch_timeout: 30m
//	fields:
//	  - {code: 20208, visit: 2, instance: 0}
//	  - {code: 20209, visit: 2, instance: 0}
//	scheduler: sbatch
//	scheduler_args: ["--parsable"]
//	report_bucket: s3://my-bucket/batchdl
//	progress: true
package config
