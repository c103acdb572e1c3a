package slogx

import (
	"fmt"
	"log/slog"
)

// Attribute keys shared by every component.
const (
	KeyLoggerName = "logger"
	KeyService    = "service"
	KeyTopic      = "topic"
	KeyEpoch      = "epoch"
)

// Error returns an attribute holding the message of err under the "error"
// key. A nil error is rendered as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Stringer renders value with its String method.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// LoggerName names the component a logger belongs to.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Service names the service an entry is about.
func Service(name string) slog.Attr {
	return slog.String(KeyService, name)
}

// Topic renders a broker topic.
func Topic(topic fmt.Stringer) slog.Attr {
	return Stringer(KeyTopic, topic)
}

// Epoch numbers the broker connection an entry belongs to.
func Epoch(n uint64) slog.Attr {
	return slog.Uint64(KeyEpoch, n)
}
