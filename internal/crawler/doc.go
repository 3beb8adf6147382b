// Package crawler implements the crawl engine: frontier traversal, dispatch of
// fetched pages to the extractor, domain scoping, and the shared record types
// used by the extractor, the record store and the corpus builder.
package crawler
