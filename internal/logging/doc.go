// Package logging builds the process logger from configuration: JSON lines
// for machines, or a compact colorized format for terminals.
package logging
