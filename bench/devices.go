package bench

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// gcsOpen opens an object in Google Cloud Storage. Swapped out in tests.
var gcsOpen = func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return r, nil
}

// LoadDevices reads device ids from source, which may be a local file path, a
// GCS url (gs://bucket/object) or inline CSV data (anything containing a
// newline). The first row is always treated as a header; ids come from the
// deviceId column, or from the first column when there is no such header.
// When limit is positive, exactly limit ids are returned, and it is an error
// for the source to hold fewer.
func LoadDevices(ctx context.Context, source string, limit int) ([]string, error) {

	var r io.Reader
	if strings.Contains(source, "\n") {
		r = strings.NewReader(source)
	} else if strings.HasPrefix(source, "gs://") {
		name := strings.TrimPrefix(source, "gs://")
		slash := strings.Index(name, "/")
		if slash < 0 {
			return nil, errors.Errorf("invalid gcs url %q", source)
		}
		gr, err := gcsOpen(ctx, name[:slash], name[slash+1:])
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	} else {
		fr, err := os.Open(source)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer fr.Close()
		r = fr
	}

	devices, err := readDevices(r)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, errors.Errorf("no device ids found in %s", sourceName(source))
	}
	if limit > 0 {
		if len(devices) < limit {
			return nil, errors.Errorf("%s has %d device ids, need %d", sourceName(source), len(devices), limit)
		}
		devices = devices[:limit]
	}
	return devices, nil
}

func readDevices(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	col := 0
	for i, h := range header {
		if strings.TrimSpace(h) == "deviceId" {
			col = i
			break
		}
	}

	var devices []string
	for {
		record, err := cr.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.WithStack(err)
		}
		if col >= len(record) {
			continue
		}
		id := strings.TrimSpace(record[col])
		if id == "" {
			continue
		}
		devices = append(devices, id)
	}
	return devices, nil
}

func sourceName(source string) string {
	if strings.Contains(source, "\n") {
		return "inline data"
	}
	return source
}
