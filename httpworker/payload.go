package httpworker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// cst is the zone used for EMQX eventTime stamps.
var cst = time.FixedZone("CST", 8*3600)

// commandParas carries the send instant in unix nanoseconds. The subscriber
// side reads it back to compute delivery latency.
type commandParas struct {
	Timestamp int64 `json:"timestamp"`
}

type commandDoc struct {
	Cmd       string       `json:"cmd"`
	Paras     commandParas `json:"paras"`
	ServiceID string       `json:"serviceId"`
}

// standardPayload is the platform command-send body. Command holds the inner
// document as an embedded JSON string.
type standardPayload struct {
	Command          string `json:"command"`
	CommandType      int    `json:"commandType"`
	DeviceID         string `json:"deviceId"`
	GatewayID        string `json:"gatewayId"`
	Expire           int    `json:"expire"`
	QoS              int    `json:"qos"`
	DeviceProductID  string `json:"deviceProductId,omitempty"`
	GatewayProductID string `json:"gatewayProductId,omitempty"`
}

func buildStandardPayload(deviceID, productID string, now time.Time) ([]byte, error) {
	cmd, err := json.Marshal(commandDoc{
		Cmd:       "bench",
		Paras:     commandParas{Timestamp: now.UnixNano()},
		ServiceID: "bench",
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p := standardPayload{
		Command:     string(cmd),
		CommandType: 1,
		DeviceID:    deviceID,
		GatewayID:   deviceID,
		Expire:      5,
		QoS:         1,
	}
	if productID != "" {
		p.DeviceProductID = productID
		p.GatewayProductID = productID
	}
	body, err := json.Marshal(p)
	return body, errors.WithStack(err)
}

type emqxProperties struct {
	UserProperties        map[string]string `json:"user_properties"`
	MessageExpiryInterval int               `json:"message_expiry_interval"`
}

// emqxPayload is the EMQX publish API body. Payload holds the command
// document as an embedded JSON string.
type emqxPayload struct {
	Topic           string         `json:"topic"`
	Retain          bool           `json:"retain"`
	QoS             int            `json:"qos"`
	Properties      emqxProperties `json:"properties"`
	PayloadEncoding string         `json:"payload_encoding"`
	Payload         string         `json:"payload"`
}

type emqxCommand struct {
	Cmd       string       `json:"cmd"`
	DeviceID  string       `json:"deviceId"`
	EventTime string       `json:"eventTime"`
	Expire    int          `json:"expire"`
	Mid       int          `json:"mid"`
	MsgID     string       `json:"msgId"`
	Paras     commandParas `json:"paras"`
	ServiceID string       `json:"serviceId"`
}

// buildEMQXPayload builds the publish body for one device and round. The
// message id (mid) is the 1-based round, and businessID ties the publish to
// the device and mid the way the platform console does.
func buildEMQXPayload(deviceID string, round int, now time.Time) ([]byte, error) {
	mid := round + 1
	inner, err := json.Marshal(emqxCommand{
		Cmd:       "bench",
		DeviceID:  deviceID,
		EventTime: now.In(cst).Format("2006-01-02T15:04:05.000-07:00"),
		Expire:    5,
		Mid:       mid,
		MsgID:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		Paras:     commandParas{Timestamp: now.UnixNano()},
		ServiceID: "bench",
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p := emqxPayload{
		Topic:  fmt.Sprintf("/v1/devices/%s/command", deviceID),
		Retain: false,
		QoS:    1,
		Properties: emqxProperties{
			UserProperties:        map[string]string{"businessID": fmt.Sprintf("%s_%d", deviceID, mid)},
			MessageExpiryInterval: 5,
		},
		PayloadEncoding: "plain",
		Payload:         string(inner),
	}
	body, err := json.Marshal(p)
	return body, errors.WithStack(err)
}
