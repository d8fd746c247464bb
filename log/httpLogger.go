package log

import (
	"github.com/hashicorp/go-retryablehttp"
)

var _ retryablehttp.LeveledLogger = retryableHTTPLogger{}

type retryableHTTPLogger struct {
}

func NewRetryableHTTPLogger() retryablehttp.LeveledLogger {
	return retryableHTTPLogger{}
}

func (r retryableHTTPLogger) Error(msg string, keysAndValues ...interface{}) {
	LogNoJobID(msg, keysAndValues...)
}

func (r retryableHTTPLogger) Warn(msg string, keysAndValues ...interface{}) {
	LogNoJobID(msg, keysAndValues...)
}

// retry chatter below warn level is dropped to keep logfmt output readable

func (r retryableHTTPLogger) Info(msg string, keysAndValues ...interface{}) {
}

func (r retryableHTTPLogger) Debug(msg string, keysAndValues ...interface{}) {
}
