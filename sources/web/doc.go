// Package web implements a generic HTTP source adapter.
//
// HTML pages are reduced to their title and main text with golang.org/x/net/html.
// PDF and office documents are converted with docconv. Requests are spaced by
// a rate limiter and carry the configured User-Agent.
package web
