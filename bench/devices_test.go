package bench

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDevicesInline(t *testing.T) {
	devices, err := LoadDevices(context.Background(), "deviceId,productId\ndev-1,p1\ndev-2,p2\n", 0)
	must(t, err)
	if len(devices) != 2 || devices[0] != "dev-1" || devices[1] != "dev-2" {
		t.Fatalf("unexpected devices: %v", devices)
	}
}

func TestLoadDevicesColumn(t *testing.T) {
	// deviceId is not the first column
	devices, err := LoadDevices(context.Background(), "productId,deviceId\np1,dev-1\np2,dev-2\n", 0)
	must(t, err)
	if len(devices) != 2 || devices[0] != "dev-1" {
		t.Fatalf("unexpected devices: %v", devices)
	}
}

func TestLoadDevicesNoHeader(t *testing.T) {
	// without a deviceId column the first row is still consumed as a header
	// and ids come from the first column
	devices, err := LoadDevices(context.Background(), "dev-0\ndev-1\ndev-2\n", 0)
	must(t, err)
	if len(devices) != 2 || devices[0] != "dev-1" {
		t.Fatalf("unexpected devices: %v", devices)
	}
}

func TestLoadDevicesLimit(t *testing.T) {
	devices, err := LoadDevices(context.Background(), "deviceId\ndev-1\ndev-2\ndev-3\n", 2)
	must(t, err)
	if len(devices) != 2 {
		t.Fatalf("unexpected devices: %v", devices)
	}

	if _, err := LoadDevices(context.Background(), "deviceId\ndev-1\n", 5); err == nil {
		t.Fatal("expected an error when the source holds too few ids")
	}
}

func TestLoadDevicesEmpty(t *testing.T) {
	if _, err := LoadDevices(context.Background(), "deviceId\n", 0); err == nil {
		t.Fatal("expected an error for an empty source")
	}
}

func TestLoadDevicesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.csv")
	must(t, os.WriteFile(path, []byte("deviceId\ndev-1\ndev-2\n"), 0666))

	devices, err := LoadDevices(context.Background(), path, 0)
	must(t, err)
	if len(devices) != 2 {
		t.Fatalf("unexpected devices: %v", devices)
	}
}

func TestLoadDevicesGcs(t *testing.T) {
	defer func(prev func(ctx context.Context, bucket, object string) (io.ReadCloser, error)) {
		gcsOpen = prev
	}(gcsOpen)

	var gotBucket, gotObject string
	gcsOpen = func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		gotBucket, gotObject = bucket, object
		return io.NopCloser(strings.NewReader("deviceId\ndev-1\n")), nil
	}

	devices, err := LoadDevices(context.Background(), "gs://fleet/devices.csv", 0)
	must(t, err)
	if gotBucket != "fleet" || gotObject != "devices.csv" {
		t.Fatalf("unexpected gcs target: %s %s", gotBucket, gotObject)
	}
	if len(devices) != 1 || devices[0] != "dev-1" {
		t.Fatalf("unexpected devices: %v", devices)
	}

	if _, err := LoadDevices(context.Background(), "gs://no-object", 0); err == nil {
		t.Fatal("expected an error for a gcs url without an object")
	}
}
