package bench

import (
	"encoding/csv"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// CsvWriteFlusher is the subset of csv.Writer the batched writer needs.
type CsvWriteFlusher interface {
	Write(record []string) error
	Flush()
	Error() error
}

// Writer batches csv records in memory and flushes them when the buffer
// reaches FlushSize or when FlushInterval passes with records pending,
// whichever comes first. A failed flush is logged and the buffer retained, so
// records are delivered at least once while the sink misbehaves.
type Writer struct {
	// FlushSize is the record count that triggers a flush. (Default: 1000).
	FlushSize int

	// FlushInterval triggers a flush of a non-empty buffer. (Default: 1s).
	FlushInterval time.Duration

	header []string
	writer CsvWriteFlusher
	closer io.Closer

	records  chan []string
	finished chan struct{}
	stop     sync.Once
	clean    bool
}

func NewWriter(header []string) *Writer {
	return &Writer{
		FlushSize:     1000,
		FlushInterval: time.Second,
		header:        header,
		records:       make(chan []string, 1024),
		finished:      make(chan struct{}),
	}
}

// SetOutput sets the sink. If the provided writer also satisfies io.Closer,
// it will be closed when the writer stops.
func (w *Writer) SetOutput(out io.Writer) {
	if out == nil {
		w.writer = nil
		w.closer = nil
		return
	}
	w.writer = csv.NewWriter(out)
	if c, ok := out.(io.Closer); ok {
		w.closer = c
	} else {
		w.closer = nil
	}
}

// OpenFile creates (or truncates) path as the sink and writes the header row.
func (w *Writer) OpenFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return errors.WithStack(err)
	}
	w.SetOutput(f)
	return w.WriteHeader()
}

// WriteHeader writes the header row immediately, bypassing the batch buffer.
// Call it before Start.
func (w *Writer) WriteHeader() error {
	if err := w.writer.Write(w.header); err != nil {
		return errors.WithStack(err)
	}
	w.writer.Flush()
	return errors.WithStack(w.writer.Error())
}

// Write queues one record. It blocks if the queue is full, which only happens
// when the sink is much slower than the producers.
func (w *Writer) Write(record []string) {
	w.records <- record
}

// Start launches the flush loop.
func (w *Writer) Start() {
	go w.loop()
}

// Stop closes the queue, waits for the loop to drain remaining records and
// run a final flush, then closes the sink. It returns false if the drain did
// not complete within grace. Safe to call more than once.
func (w *Writer) Stop(grace time.Duration) bool {
	w.stop.Do(func() {
		close(w.records)
		select {
		case <-w.finished:
			w.clean = true
		case <-time.After(grace):
		}
		if w.closer != nil {
			_ = w.closer.Close() // ignore error
		}
	})
	return w.clean
}

func (w *Writer) loop() {
	defer close(w.finished)

	ticker := time.NewTicker(w.FlushInterval)
	defer ticker.Stop()

	var buf [][]string
	for {
		select {
		case record, ok := <-w.records:
			if !ok {
				w.flush(&buf)
				return
			}
			buf = append(buf, record)
			if len(buf) >= w.FlushSize {
				w.flush(&buf)
			}
		case <-ticker.C:
			if len(buf) > 0 {
				w.flush(&buf)
			}
		}
	}
}

// flush writes the whole buffer through the sink. On error the buffer is kept
// untouched for the next trigger; records that landed before the error will
// then be written again, which is the price of at-least-once delivery.
func (w *Writer) flush(buf *[][]string) {
	if w.writer == nil {
		*buf = (*buf)[:0]
		return
	}
	for _, record := range *buf {
		if err := w.writer.Write(record); err != nil {
			log.WithError(err).Warn("record write failed, keeping buffered records for retry")
			return
		}
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		log.WithError(err).Warn("flush failed, keeping buffered records for retry")
		return
	}
	*buf = (*buf)[:0]
}
