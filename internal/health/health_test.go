// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServeHealthAlwaysOK(t *testing.T) {
	m := NewManager()
	m.Register(CheckerFunc{CheckerName: "store", Fn: func(context.Context) error {
		return errors.New("down")
	}})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, 200, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeReady(t *testing.T) {
	m := NewManager()
	fail := errors.New("store down")
	var err error
	m.Register(CheckerFunc{CheckerName: "store", Fn: func(context.Context) error { return err }})

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	require.Equal(t, 200, rec.Code)

	err = fail
	rec = httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	require.Equal(t, 503, rec.Code)
	require.Contains(t, rec.Body.String(), "store down")
}
