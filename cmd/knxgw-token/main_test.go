package main

import (
	"testing"
	"time"
)

func TestRunRequiresASecret(t *testing.T) {
	if _, err := run("", "", time.Hour); err == nil {
		t.Fatal("run() should fail when neither -secret nor the env var is set")
	}
}

func TestRunPrefersFlagOverEnv(t *testing.T) {
	token, err := run("flag-secret", "env-secret", time.Minute)
	if err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if token == "" {
		t.Fatal("run() returned an empty token")
	}
}

func TestRunFallsBackToEnv(t *testing.T) {
	token, err := run("", "env-secret", time.Minute)
	if err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if token == "" {
		t.Fatal("run() returned an empty token")
	}
}
