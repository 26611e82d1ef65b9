//go:build unix

package main

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func TestInterruptible_CancelsOnSIGTERM(t *testing.T) {
	ctx, stop := interruptible(context.Background())
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}
