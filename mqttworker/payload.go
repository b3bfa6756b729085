package mqttworker

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// extractTimestamp digs the send instant (unix nanoseconds) out of a command
// payload. The platform delivers it in one of three places: a top level
// `timestamp`, `paras.timestamp`, or inside the embedded `command` JSON
// string. The first place that exists wins; a present but unusable value is
// an error, not a reason to keep searching.
func extractTimestamp(payload []byte) (int64, error) {
	doc := map[string]interface{}{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return 0, errors.New("payload is not a json object")
	}

	if v, ok := doc["timestamp"]; ok {
		return timestampValue(v)
	}
	if paras, ok := doc["paras"].(map[string]interface{}); ok {
		if v, ok := paras["timestamp"]; ok {
			return timestampValue(v)
		}
		return 0, errors.New("timestamp not found")
	}
	if cmd, ok := doc["command"].(string); ok {
		inner := map[string]interface{}{}
		d := json.NewDecoder(strings.NewReader(cmd))
		d.UseNumber()
		if err := d.Decode(&inner); err == nil {
			if paras, ok := inner["paras"].(map[string]interface{}); ok {
				if v, ok := paras["timestamp"]; ok {
					return timestampValue(v)
				}
			} else if v, ok := inner["timestamp"]; ok {
				return timestampValue(v)
			}
		}
	}
	return 0, errors.New("timestamp not found")
}

func timestampValue(v interface{}) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, errors.New("timestamp is not a number")
	}
	ts, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return 0, errors.New("timestamp is not a number")
		}
		ts = int64(f)
	}
	if ts == 0 {
		return 0, errors.New("timestamp not found")
	}
	return ts, nil
}
