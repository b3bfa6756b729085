package bench

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/leemcloughlin/gofarmhash"
	"github.com/pkg/errors"
)

var outcomeLogHeader = []string{"hash", "result", "deviceId", "round", "elapsedMs", "status"}

// unitHash identifies a unit across runs. The round goes into the hash, so a
// rerun with more rounds only skips the rounds that already succeeded.
func unitHash(u Unit) farmhash.Uint128 {
	return farmhash.Hash128([]byte(fmt.Sprintf("%s|%d", u.Key, u.Round)))
}

func outcomeToCsv(u Unit, o Outcome) []string {
	return []string{
		fmt.Sprintf("%x|%x", u.hash.First, u.hash.Second),
		fmt.Sprint(o.OK),
		u.Key,
		strconv.Itoa(u.Round),
		strconv.FormatFloat(float64(o.Elapsed)/float64(time.Millisecond), 'f', 2, 64),
		strconv.Itoa(o.Status),
	}
}

type outcomeRecord struct {
	hash   farmhash.Uint128
	result bool
}

func (l *outcomeRecord) fromCsv(in []string) error {
	var err error
	s := in[0]
	pos := strings.Index(s, "|")
	if pos < 0 {
		return errors.Errorf("malformed hash %q in outcome log", s)
	}
	l.hash.First, err = strconv.ParseUint(s[:pos], 16, 64)
	if err != nil {
		return errors.WithStack(err)
	}
	l.hash.Second, err = strconv.ParseUint(s[pos+1:], 16, 64)
	if err != nil {
		return errors.WithStack(err)
	}
	l.result, err = strconv.ParseBool(in[1])
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// InitOutcomeLog opens the outcome log at path, loading the results of a
// previous run first when Resume is set. Without Resume any previous log is
// discarded.
func (r *Runner) InitOutcomeLog(path string) error {

	if path == "" {
		return nil
	}

	if r.Resume {
		if err := r.loadOutcomeLog(path); err != nil {
			return err
		}
	}

	if !r.Resume {
		_ = os.Remove(path) // ignore error
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0666)
	if err != nil {
		return errors.WithStack(err)
	}

	s, err := f.Stat()
	if err != nil {
		return errors.WithStack(err)
	}

	w := NewWriter(outcomeLogHeader)
	w.SetOutput(f)
	r.outcomes = w

	if s.Size() == 0 {
		if err := w.WriteHeader(); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) loadOutcomeLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WithStack(err)
	}
	defer f.Close()

	fs, err := f.Stat()
	if err != nil {
		return errors.WithStack(err)
	}

	if fs.Size() == 0 {
		return nil
	}

	return r.LoadOutcomes(f)
}

// LoadOutcomes reads the log of a previous run and stores the hashes of
// successfully completed units so they can be skipped in the current run.
func (r *Runner) LoadOutcomes(rd io.Reader) error {
	lr := csv.NewReader(rd)
	if _, err := lr.Read(); err != nil {
		// skip header
		if err == io.EOF {
			return nil
		}
		return errors.WithStack(err)
	}
	for {
		record, err := lr.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return errors.WithStack(err)
		}
		var rec outcomeRecord
		if err := (&rec).fromCsv(record); err != nil {
			return err
		}
		if rec.result {
			r.skip[rec.hash] = struct{}{}
		}
	}
	return nil
}
