package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// Обработчик в духе пакетных корректировок: читает JSON-пакет и возвращает
// JSON-итог, чтобы проверить сжатие на реальной форме трафика сервиса.
func adjustmentsEchoHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req struct {
		Updates []struct {
			StudentID int64 `json:"studentId"`
			Amount    int64 `json:"amount"`
		} `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"applied": len(req.Updates)})
}

func gzipBody(t *testing.T, payload string) io.Reader {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(payload)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return &buf
}

func TestGzipMiddleware_AdjustmentsFlow(t *testing.T) {
	const batch = `{"updates":[{"studentId":2,"amount":100},{"studentId":3,"amount":-50}]}`

	tests := []struct {
		name         string
		body         io.Reader
		headers      map[string]string
		wantEncoding string
	}{
		{
			name: "client accepts gzip",
			body: strings.NewReader(batch),
			headers: map[string]string{
				"Accept-Encoding": "gzip",
				"Content-Type":    "application/json",
			},
			wantEncoding: "gzip",
		},
		{
			name: "client does not accept gzip",
			body: strings.NewReader(batch),
			headers: map[string]string{
				"Content-Type": "application/json",
			},
			wantEncoding: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/classroom/1/adjustments", tt.body)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			w := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(adjustmentsEchoHandler)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
			}
			if ce := res.Header.Get("Content-Encoding"); ce != tt.wantEncoding {
				t.Fatalf("content-encoding = %q, want %q", ce, tt.wantEncoding)
			}
			if ct := res.Header.Get("Content-Type"); ct != "application/json" {
				t.Fatalf("content-type = %q, want application/json", ct)
			}

			var reader io.Reader = res.Body
			if tt.wantEncoding == "gzip" {
				gr, err := gzip.NewReader(res.Body)
				if err != nil {
					t.Fatalf("new gzip reader: %v", err)
				}
				defer gr.Close()
				reader = gr
			}

			var got struct {
				Applied int `json:"applied"`
			}
			if err := json.NewDecoder(reader).Decode(&got); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if got.Applied != 2 {
				t.Fatalf("applied = %d, want 2", got.Applied)
			}
		})
	}
}

func TestGzipMiddleware_DecompressesRequestBody(t *testing.T) {
	const batch = `{"updates":[{"studentId":2,"amount":100}]}`

	req := httptest.NewRequest(http.MethodPost, "/api/classroom/1/adjustments", gzipBody(t, batch))
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(adjustmentsEchoHandler)).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got struct {
		Applied int `json:"applied"`
	}
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Applied != 1 {
		t.Fatalf("applied = %d, want 1", got.Applied)
	}
}

func TestGzipMiddleware_CorruptRequestBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/classroom/1/adjustments",
		strings.NewReader("not gzip at all"))
	req.Header.Set("Content-Encoding", "gzip")

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(adjustmentsEchoHandler)).ServeHTTP(w, req)

	if w.Result().StatusCode == http.StatusOK {
		t.Fatalf("corrupt gzip body must not reach the handler as OK")
	}
}
