package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/tpmjs/omega/pkg/models"
)

type fakeCredStore struct {
	records []*models.CredentialRecord
	err     error
}

func (f *fakeCredStore) ListCredentials(context.Context, string) ([]*models.CredentialRecord, error) {
	return f.records, f.err
}

func testKey() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

func TestNewRejectsBadKey(t *testing.T) {
	if _, err := New("not-base64!!!", nil, nil); err == nil {
		t.Error("expected error for invalid base64 key")
	}
	if _, err := New(base64.StdEncoding.EncodeToString([]byte("short")), nil, nil); err == nil {
		t.Error("expected error for short key")
	}
}

func TestSealAndFetch(t *testing.T) {
	store := &fakeCredStore{}
	v, err := New(testKey(), store, nil)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := v.Seal("ghp_supersecret")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	store.records = []*models.CredentialRecord{
		{UserID: "u1", Name: "GITHUB_TOKEN", Ciphertext: sealed},
	}

	result := v.GetUserEnvVars(context.Background(), "u1")
	if result.Outcome != OutcomeOK {
		t.Errorf("outcome = %q, want ok", result.Outcome)
	}
	if result.Env["GITHUB_TOKEN"] != "ghp_supersecret" {
		t.Errorf("decrypted value = %q", result.Env["GITHUB_TOKEN"])
	}
}

func TestCorruptRecordIsSkipped(t *testing.T) {
	v, err := New(testKey(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	good, err := v.Seal("value-a")
	if err != nil {
		t.Fatal(err)
	}
	store := &fakeCredStore{records: []*models.CredentialRecord{
		{Name: "GOOD", Ciphertext: good},
		{Name: "BAD", Ciphertext: []byte{0x01, 0x02}},
	}}
	v.store = store

	result := v.GetUserEnvVars(context.Background(), "u1")
	if result.Outcome != OutcomeDegraded {
		t.Errorf("outcome = %q, want degraded", result.Outcome)
	}
	if result.Env["GOOD"] != "value-a" {
		t.Error("valid record should survive a sibling decryption failure")
	}
	if _, ok := result.Env["BAD"]; ok {
		t.Error("corrupt record must be omitted")
	}
}

func TestStoreFailureDegradesToEmpty(t *testing.T) {
	store := &fakeCredStore{err: errors.New("db down")}
	v, err := New(testKey(), store, nil)
	if err != nil {
		t.Fatal(err)
	}

	result := v.GetUserEnvVars(context.Background(), "u1")
	if result.Outcome != OutcomeDegraded {
		t.Errorf("outcome = %q, want degraded", result.Outcome)
	}
	if result.Env == nil || len(result.Env) != 0 {
		t.Errorf("env = %v, want empty non-nil map", result.Env)
	}
}

func TestNoCredentials(t *testing.T) {
	v, err := New(testKey(), &fakeCredStore{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	result := v.GetUserEnvVars(context.Background(), "u1")
	if result.Outcome != OutcomeEmpty {
		t.Errorf("outcome = %q, want empty", result.Outcome)
	}
}
