package worker

import (
	"container/list"
	"io"
	"log/slog"
)

type listElement = list.Element

func newReadyList() *list.List { return list.New() }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
