package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakePDF = []byte("%PDF-1.7 " + strings.Repeat("x", 128))

func TestRenderHTMLPostsMultipartForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		file, header, err := r.FormFile("files")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		assert.Equal(t, "index.html", header.Filename)
		body, _ := io.ReadAll(file)
		assert.Equal(t, "<h1>hi</h1>", string(body))
		_, _ = w.Write(fakePDF)
	}))
	defer srv.Close()

	pdf, err := NewClient(srv.URL+"/").RenderHTML(context.Background(), "<h1>hi</h1>")
	require.NoError(t, err)
	assert.Equal(t, fakePDF, pdf)
}

func TestRenderHTMLRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(fakePDF)
	}))
	defer srv.Close()

	pdf, err := NewClient(srv.URL).RenderHTML(context.Background(), "<p>x</p>")
	require.NoError(t, err)
	assert.Equal(t, fakePDF, pdf)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRenderHTMLDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).RenderHTML(context.Background(), "<p>x</p>")
	require.ErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRenderHTMLRejectsTinyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).RenderHTML(context.Background(), "<p>x</p>")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"up"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL).Ping(context.Background()))

	srv.Close()
	assert.Error(t, NewClient(srv.URL).Ping(context.Background()))
}
