// Package ocr synthesizes a text layer for pages that have no native text.
//
// An Engine is the OCR black box: one encoded image in, recognized words with
// pixel boxes out. A Synthesizer drives it for a rendered page: it rasterizes
// the page at a boosted scale, recognizes it, rescales the word boxes onto the
// page as currently displayed and converts them to Storage space. Results
// computed for a view that is no longer current are discarded.
package ocr
