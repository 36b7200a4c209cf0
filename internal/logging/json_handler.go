package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// jsonKeys shortens slog's built-in keys for the JSON run logs.
var jsonKeys = map[string]string{
	slog.TimeKey:    "ts",
	slog.LevelKey:   "level",
	slog.MessageKey: "msg",
	slog.SourceKey:  "src",
}

// newJSONHandler writes one object per line. Timestamps carry the local
// offset since the weekly run is scheduled in site time, and errors are
// flattened to their message.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) (slog.Handler, error) {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: replaceJSONAttr,
	}), nil
}

func replaceJSONAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch value := attr.Value.Any().(type) {
	case time.Time:
		if attr.Key == slog.TimeKey {
			attr.Value = slog.StringValue(value.Local().Format(time.RFC3339))
		}
	case slog.Level:
		attr.Value = slog.StringValue(strings.ToLower(value.String()))
	case *slog.Source:
		if value != nil {
			attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(value.File), value.Line))
		}
	case error:
		if value != nil {
			attr.Value = slog.StringValue(value.Error())
		}
	}
	if short, ok := jsonKeys[attr.Key]; ok {
		attr.Key = short
	}
	return attr
}
