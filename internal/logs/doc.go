// Package logs reads the shared applypilot log file for the `logs` command
// and the control API.
//
// Last returns the final N lines with bounded memory, From resumes at a byte
// offset, and Follow polls for appended lines until its context ends. A
// missing file reads as empty so callers can start before the first write.
// When the file shrinks (rotation or truncation) reads restart from the top.
package logs
