// Package preflight provides readiness checks for the directories, files,
// collaborator programs and control API that applypilot depends on.
//
// The CLI "applypilot doctor" command runs RunAll and prints every result.
// Checks never mutate anything; a missing directory is reported, not created.
package preflight
