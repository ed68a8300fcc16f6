package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

func TestValidate(t *testing.T) {
	svc, err := New(Config{
		Name:           "SD",
		URL:            "http://unused",
		PriceMsat:      10000,
		RequiredFields: []string{"prompt"},
	}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, svc.Validate(ctx, json.RawMessage(`{"prompt":"cat"}`)))
	assert.ErrorContains(t, svc.Validate(ctx, json.RawMessage(`{}`)), "prompt")
	assert.Error(t, svc.Validate(ctx, json.RawMessage(`[1,2]`)))

	tries, err := svc.Tries(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTries, tries)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{URL: "http://x", PriceMsat: 1}, nil)
	assert.Error(t, err)
	_, err = New(Config{Name: "SD", PriceMsat: 1}, nil)
	assert.Error(t, err)
	_, err = New(Config{Name: "SD", URL: "http://x"}, nil)
	assert.Error(t, err)
}

func TestSyncStepWithBearerKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body := map[string]any{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["prompt"])
		_, _ = w.Write([]byte(`{"answer":"hi"}`))
	}))
	defer srv.Close()

	svc, err := New(Config{Name: "GPT", URL: srv.URL, APIKey: "sk-test", PriceMsat: 5000}, srv.Client())
	require.NoError(t, err)

	out := svc.Step(context.Background(), domain.StepInput{Request: json.RawMessage(`{"prompt":"hello"}`)})
	done, ok := out.(domain.Done)
	require.True(t, ok, "got %T", out)
	assert.JSONEq(t, `{"answer":"hi"}`, string(done.Payload))
}

func TestAsyncStepsFollowResultURL(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/dreambooth", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sd-key", body["key"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       "processing",
			"fetch_result": srv.URL + "/fetch/7",
		})
	})
	mux.HandleFunc("/fetch/7", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sd-key", body["key"])
		polls++
		if polls < 2 {
			_, _ = w.Write([]byte(`{"status":"processing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","output":["https://cdn/img.png"]}`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	svc, err := New(DefaultAsync(Config{
		Name:      "SD",
		URL:       srv.URL + "/dreambooth",
		APIKey:    "sd-key",
		KeyField:  "key",
		PriceMsat: 10000,
	}), srv.Client())
	require.NoError(t, err)
	ctx := context.Background()
	req := json.RawMessage(`{"prompt":"lighthouse"}`)

	out := svc.Step(ctx, domain.StepInput{Request: req})
	working, ok := out.(domain.StillWorking)
	require.True(t, ok, "got %T", out)

	out = svc.Step(ctx, domain.StepInput{Request: req, Previous: working.Payload})
	again, ok := out.(domain.StillWorking)
	require.True(t, ok, "got %T", out)
	assert.JSONEq(t, string(working.Payload), string(again.Payload))

	out = svc.Step(ctx, domain.StepInput{Request: req, Previous: again.Payload})
	done, ok := out.(domain.Done)
	require.True(t, ok, "got %T", out)
	assert.JSONEq(t, `{"status":"success","output":["https://cdn/img.png"]}`, string(done.Payload))
}

func TestUpstreamErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, err := New(Config{Name: "GPT", URL: srv.URL, PriceMsat: 1}, srv.Client())
	require.NoError(t, err)

	out := svc.Step(context.Background(), domain.StepInput{Request: json.RawMessage(`{}`)})
	failed, ok := out.(domain.Failed)
	require.True(t, ok, "got %T", out)
	assert.Contains(t, failed.Message, "503")
}

func TestMultipartAsset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload-1")
	require.NoError(t, os.WriteFile(path, []byte("file-bytes"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "public", r.FormValue("visibility"))
		f, hdr, err := r.FormFile("upload")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "file-bytes", string(b))
		assert.Equal(t, "photo.png", hdr.Filename)
		_, _ = w.Write([]byte(`{"url":"https://files/photo.png"}`))
	}))
	defer srv.Close()

	svc, err := New(Config{Name: "Storage", URL: srv.URL, PriceMsat: 1, FileField: "upload"}, srv.Client())
	require.NoError(t, err)

	out := svc.Step(context.Background(), domain.StepInput{
		Request: json.RawMessage(`{"visibility":"public"}`),
		Asset:   &domain.Asset{Name: "photo.png", Path: path},
	})
	done, ok := out.(domain.Done)
	require.True(t, ok, "got %T", out)
	assert.JSONEq(t, `{"url":"https://files/photo.png"}`, string(done.Payload))
}

func TestOffering(t *testing.T) {
	svc, err := New(Config{Name: "SD", URL: "http://x", PriceMsat: 10000, Description: "images"}, nil)
	require.NoError(t, err)

	o := svc.Offering("https://buffet.example/")
	assert.Equal(t, "https://buffet.example/SD", o.Endpoint)
	assert.Equal(t, domain.OfferingUp, o.Status)
	assert.Equal(t, int64(10000), o.FixedCost)
	assert.Equal(t, "mSATS", o.CostUnits)
}
