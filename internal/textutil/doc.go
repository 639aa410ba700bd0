// Package textutil holds the text checks applied to generated documents:
// vocabulary overlap with a source document, leaked-phrase detection, and
// path-safe tokens for artifact names.
package textutil
