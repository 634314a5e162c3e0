// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func okOperation(payload map[string]any) Operation {
	return func(ctx context.Context) (Result, error) {
		return OkResult(payload), nil
	}
}

func failingOperation(err error) Operation {
	return func(ctx context.Context) (Result, error) {
		return Result{}, err
	}
}

func TestWithFallback_SuccessPassesThrough(t *testing.T) {
	d := NewFallbackDispatcher(nil)
	fallbackCalled := false

	res, err := d.WithFallback(context.Background(), "dep",
		okOperation(map[string]any{"rows": 3}),
		func(ctx context.Context) (Result, error) {
			fallbackCalled = true
			return OkResult(nil), nil
		})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fallbackCalled {
		t.Error("fallback must not run on success")
	}
	if res.Payload["rows"] != 3 {
		t.Errorf("payload = %v", res.Payload)
	}
	if res.FallbackUsed() {
		t.Error("primary result must not be tagged as fallback")
	}
}

func TestWithFallback_InfrastructureErrorDispatchesFallback(t *testing.T) {
	d := NewFallbackDispatcher(nil)

	res, err := d.WithFallback(context.Background(), "dep",
		failingOperation(fmt.Errorf("rpc error: %w", syscall.ECONNREFUSED)),
		okOperation(map[string]any{"source": "cache"}))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Payload["source"] != "cache" {
		t.Errorf("expected fallback payload, got %v", res.Payload)
	}
}

func TestWithFallback_DeadlineExceededDispatchesFallback(t *testing.T) {
	d := NewFallbackDispatcher(nil)

	res, err := d.WithFallback(context.Background(), "dep",
		failingOperation(fmt.Errorf("query: %w", context.DeadlineExceeded)),
		okOperation(nil))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError() {
		t.Errorf("expected fallback success, got %+v", res)
	}
}

func TestWithFallback_KeywordInfrastructureErrorDispatchesFallback(t *testing.T) {
	d := NewFallbackDispatcher(nil)

	_, err := d.WithFallback(context.Background(), "dep",
		failingOperation(errors.New("ConnectionError: session expired")),
		okOperation(nil))

	if err != nil {
		t.Fatalf("expected fallback dispatch on session error, got %v", err)
	}
}

func TestWithFallback_DomainErrorPropagates(t *testing.T) {
	d := NewFallbackDispatcher(nil)
	domainErr := errors.New("invalid filter expression")
	fallbackCalled := false

	_, err := d.WithFallback(context.Background(), "dep",
		failingOperation(domainErr),
		func(ctx context.Context) (Result, error) {
			fallbackCalled = true
			return OkResult(nil), nil
		})

	if !errors.Is(err, domainErr) {
		t.Fatalf("expected domain error to propagate, got %v", err)
	}
	if fallbackCalled {
		t.Error("fallback must not run on domain errors")
	}
}

func TestWithFallback_InfrastructureErrorResultTagged(t *testing.T) {
	d := NewFallbackDispatcher(nil)

	res, err := d.WithFallback(context.Background(), "dep",
		func(ctx context.Context) (Result, error) {
			return ErrorResult("upstream unavailable, retry later"), nil
		},
		okOperation(map[string]any{"source": "secondary"}))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FallbackUsed() {
		t.Error("expected fallback_used tag")
	}
	if res.Meta["original_source"] != "primary" {
		t.Errorf("original_source = %v", res.Meta["original_source"])
	}
	if res.Payload["source"] != "secondary" {
		t.Errorf("payload = %v", res.Payload)
	}
}

func TestWithFallback_DomainErrorResultPassesThrough(t *testing.T) {
	d := NewFallbackDispatcher(nil)
	fallbackCalled := false

	res, err := d.WithFallback(context.Background(), "dep",
		func(ctx context.Context) (Result, error) {
			return ErrorResult("invalid metric type"), nil
		},
		func(ctx context.Context) (Result, error) {
			fallbackCalled = true
			return OkResult(nil), nil
		})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fallbackCalled {
		t.Error("fallback must not run on domain error results")
	}
	if !res.IsError() || res.Error != "invalid metric type" {
		t.Errorf("result = %+v", res)
	}
	if res.FallbackUsed() {
		t.Error("pass-through result must not be tagged")
	}
}

func TestWithFallback_FallbackErrorPropagates(t *testing.T) {
	d := NewFallbackDispatcher(nil)
	fallbackErr := errors.New("cache miss")

	_, err := d.WithFallback(context.Background(), "dep",
		failingOperation(errors.New("connection reset by peer")),
		failingOperation(fallbackErr))

	if !errors.Is(err, fallbackErr) {
		t.Fatalf("expected fallback error, got %v", err)
	}
}

func TestWithFallback_CancellationIsNotInfrastructure(t *testing.T) {
	d := NewFallbackDispatcher(nil)
	fallbackCalled := false

	_, err := d.WithFallback(context.Background(), "dep",
		failingOperation(fmt.Errorf("aborted: %w", context.Canceled)),
		func(ctx context.Context) (Result, error) {
			fallbackCalled = true
			return OkResult(nil), nil
		})

	if err == nil {
		t.Fatal("expected caller cancellation to propagate")
	}
	if fallbackCalled {
		t.Error("fallback must not run when the caller cancelled")
	}
}

func TestWithFallback_NilOperations(t *testing.T) {
	d := NewFallbackDispatcher(nil)

	_, err := d.WithFallback(context.Background(), "dep", nil, okOperation(nil))
	if !errors.Is(err, ErrNilOperation) {
		t.Errorf("expected ErrNilOperation, got %v", err)
	}
}

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "opaque failure" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

func TestIsInfrastructureFailure_TypedNetError(t *testing.T) {
	if !isInfrastructureFailure(fakeNetError{}) {
		t.Error("net.Error implementations must classify as infrastructure")
	}
	if isInfrastructureFailure(errors.New("wrong column name")) {
		t.Error("plain domain errors must not classify as infrastructure")
	}
}
