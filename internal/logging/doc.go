// Package logging builds the zap loggers shared by cachenode and cacheproxy,
// replacing the teacher's plain log.Printf calls with structured output.
package logging
