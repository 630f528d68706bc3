// ABOUTME: Package transcript exports threads for sharing outside the CLI
// ABOUTME: Documents the Markdown layout and the HTML page

// Package transcript renders a thread's messages for export.
//
// Markdown output is a heading per message labelled with its role and
// timestamp. Missing timestamps render as "unknown". HTML output wraps the
// same messages in a standalone page, converting each body with goldmark
// (GitHub-flavored extensions enabled). Raw HTML in message content is
// dropped by goldmark's default renderer, and every other field is escaped
// by html/template.
package transcript
