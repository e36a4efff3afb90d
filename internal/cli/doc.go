// Package cli parses command-line arguments, validates user input and maps
// command outcomes to process exit codes. Each subcommand overlays its flags
// on the environment-derived settings and hands the result to the app layer.
package cli
