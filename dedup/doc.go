// Package dedup keeps an in-memory index of content fingerprints so that
// unchanged content can be skipped without chunking or classifying it again.
package dedup
