// Command applypilot moves job listings through discovery, enrichment,
// scoring, tailoring, cover letters and submission.
//
// Stage runs happen in the foreground of the invoking process; serve keeps
// the control API and, optionally, a continuous submission pool running.
package main
