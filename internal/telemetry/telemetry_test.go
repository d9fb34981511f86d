package telemetry

import (
	"context"
	"errors"
	"testing"
)

type fakeSettings struct {
	values map[string]string
}

func (f *fakeSettings) GetSetting(ctx context.Context, key string) (string, error) {
	if v, ok := f.values[key]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func (f *fakeSettings) SetSetting(ctx context.Context, key, value string) error {
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[key] = value
	return nil
}

func TestNewDisabledByEnv(t *testing.T) {
	t.Setenv("KEYGATE_TELEMETRY", "0")
	if tr := New(context.Background(), &fakeSettings{}, nil); tr != nil {
		t.Fatal("tracker created despite KEYGATE_TELEMETRY=0")
	}
}

func TestNewDisabledBySetting(t *testing.T) {
	store := &fakeSettings{values: map[string]string{"telemetry.enabled": "false"}}
	if tr := New(context.Background(), store, nil); tr != nil {
		t.Fatal("tracker created despite telemetry.enabled=false")
	}
}

func TestInstanceIDPersisted(t *testing.T) {
	store := &fakeSettings{}
	ctx := context.Background()

	first := resolveInstanceID(ctx, store)
	if first == "" {
		t.Fatal("empty instance ID")
	}
	if store.values["instance_id"] != first {
		t.Fatal("instance ID not persisted")
	}

	second := resolveInstanceID(ctx, store)
	if second != first {
		t.Fatalf("instance ID changed: %q != %q", second, first)
	}
}

func TestNilTrackerIsSafe(t *testing.T) {
	var tr *Tracker
	tr.Start()
	tr.Shutdown()
}
