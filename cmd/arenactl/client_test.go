package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_DecodesTypedErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionRequired)
		fmt.Fprint(w, `{"error":"no wallet connected","kind":"ConnectivityError","reason":"SignerUnavailable"}`)
	}))
	defer srv.Close()

	err := newAPIClient(srv.URL, time.Second).do(context.Background(), http.MethodGet, "/api/session", nil, nil)
	require.Error(t, err)

	apiErr, ok := err.(*apiError)
	require.True(t, ok)
	assert.Equal(t, http.StatusPreconditionRequired, apiErr.Status)
	assert.Equal(t, domain.KindConnectivity, apiErr.Kind)
	assert.Equal(t, domain.ReasonSignerUnavailable, apiErr.Reason)
	assert.Contains(t, err.Error(), "no wallet connected")
}

func TestAPIClient_PlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newAPIClient(srv.URL+"/", time.Second).do(context.Background(), http.MethodGet, "/health", nil, nil)
	require.Error(t, err)
	assert.Equal(t, "HTTP 502: upstream down", err.Error())
}

func TestFollowRun_ReportsStepsUntilTerminal(t *testing.T) {
	steps := []saga.Step{saga.StepRequestingInference, saga.StepRequestingInference, saga.StepUploadingStorage, saga.StepCompleted}
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/runs/run-1", r.URL.Path)
		i := atomic.AddInt32(&calls, 1) - 1
		if int(i) >= len(steps) {
			i = int32(len(steps) - 1)
		}
		fmt.Fprintf(w, `{"id":"run-1","step":%q}`, steps[i])
	}))
	defer srv.Close()

	var seen []saga.Step
	run, err := followRun(context.Background(), newAPIClient(srv.URL, time.Second), "run-1", time.Millisecond, func(s saga.Step) {
		seen = append(seen, s)
	})
	require.NoError(t, err)
	assert.Equal(t, saga.StepCompleted, run.Step)
	assert.Equal(t, []saga.Step{saga.StepRequestingInference, saga.StepUploadingStorage, saga.StepCompleted}, seen)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestPrintOutcome_FailedRun(t *testing.T) {
	err := printOutcome(&saga.Run{
		Step:         saga.StepFailed,
		MayStillLand: true,
		Failure:      &saga.Failure{Step: saga.StepExecutingContract, Kind: domain.KindTimeout, Message: "confirmation timed out"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "may still land")
}
