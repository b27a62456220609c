// Package broker implements the Test Requester: the decision tree that
// decides whether a (testsrc, testver) on one architecture needs a fresh
// autopkgtest run, and the sink that dispatches the request (kafka-go
// broker or a plain file sink).
package broker

import "errors"

// ErrPublish wraps a broker-sink publish failure; the caller must treat it
// as fatal to the current candidate rather than silently losing the
// request.
var ErrPublish = errors.New("failed to publish test request")
