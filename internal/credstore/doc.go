// Package credstore contains the credential store backends a Gateway can
// persist its credential pair to: process memory, a local file, Redis and
// DynamoDB. Each store holds the pair of one profile.
package credstore

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("credstore")
