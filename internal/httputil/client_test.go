package httputil

import (
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStandardClient(t *testing.T) {
	assert.Equal(t, http.DefaultClient, NewStandardClient(nil))
	custom := &http.Client{}
	assert.Equal(t, custom, NewStandardClient(custom))
}

func TestMockHTTPClient_Queue(t *testing.T) {
	mock := NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"targets":[]}`).
		AddErrorResponse(errors.New("connection refused")).
		AddResponse(http.StatusBadGateway, "")

	req, err := http.NewRequest(http.MethodGet, "http://radar.local/api/snapshot", nil)
	require.NoError(t, err)

	resp, err := mock.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"targets":[]}`, string(body))

	_, err = mock.Do(req)
	assert.EqualError(t, err, "connection refused")

	resp, err = mock.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, err = mock.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "drained queue answers 200")
	assert.Equal(t, 4, mock.RequestCount())
}

func TestMockHTTPClient_Overrides(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.DefaultError = errors.New("down")
	req, _ := http.NewRequest(http.MethodGet, "http://x", nil)
	_, err := mock.Do(req)
	assert.EqualError(t, err, "down")

	mock.DoFunc = func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTeapot, Body: http.NoBody}, nil
	}
	resp, err := mock.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}
