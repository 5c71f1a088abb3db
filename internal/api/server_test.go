package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/sumi/internal/decode"
	"github.com/samcharles93/sumi/internal/ocr"
)

type fakeEngine struct {
	res  *ocr.Result
	info ocr.Info
	err  error

	gotMaxSteps int
	gotImage    bool
}

func (e *fakeEngine) Recognize(ctx context.Context, req *ocr.Request, observe ocr.ObserveFunc) (*ocr.Result, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.gotMaxSteps = req.MaxSteps
	e.gotImage = req.Image != nil
	return e.res, nil
}

func (e *fakeEngine) Info() ocr.Info { return e.info }
func (e *fakeEngine) Close() error   { return nil }

type fakeProvider struct {
	eng      *fakeEngine
	err      error
	gotModel string
}

func (p *fakeProvider) WithEngine(ctx context.Context, modelID string, fn func(eng ocr.Engine) error) error {
	if p.err != nil {
		return p.err
	}
	p.gotModel = modelID
	return fn(p.eng)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		eng: &fakeEngine{
			res: &ocr.Result{
				Text:     "kaki",
				TokenIDs: []int64{2, 4, 5, 3},
				Steps:    3,
				Stats: decode.Stats{
					TokensGenerated: 3,
					Duration:        12 * time.Millisecond,
					TPS:             250,
				},
			},
			info: ocr.Info{Path: "/models/manga-ocr.scf", Container: true},
		},
	}
}

func newTestEcho(provider EngineProvider) *echo.Echo {
	e := echo.New()
	NewServer(provider).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestRecognizeJSONBase64(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	e := newTestEcho(provider)

	b64 := base64.StdEncoding.EncodeToString(pngBytes(t))
	body := fmt.Sprintf(`{"image":%q,"model":"manga-ocr","max_steps":16}`, b64)
	rec := doJSON(t, e, http.MethodPost, "/v1/recognize", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp RecognizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "rec_") {
		t.Errorf("expected rec_ id prefix, got %q", resp.ID)
	}
	if resp.Object != "recognition" {
		t.Errorf("object: got %q", resp.Object)
	}
	if resp.Text != "kaki" {
		t.Errorf("text: got %q", resp.Text)
	}
	if resp.Steps != 3 || resp.DurationMS != 12 {
		t.Errorf("steps/duration: got %d / %v", resp.Steps, resp.DurationMS)
	}
	if provider.gotModel != "manga-ocr" {
		t.Errorf("model id passed to provider: got %q", provider.gotModel)
	}
	if provider.eng.gotMaxSteps != 16 {
		t.Errorf("max steps passed to engine: got %d", provider.eng.gotMaxSteps)
	}
	if !provider.eng.gotImage {
		t.Error("engine did not receive a decoded image")
	}
}

func TestRecognizeDataURL(t *testing.T) {
	t.Parallel()

	e := newTestEcho(newFakeProvider())
	b64 := base64.StdEncoding.EncodeToString(pngBytes(t))
	body := fmt.Sprintf(`{"image":"data:image/png;base64,%s"}`, b64)
	rec := doJSON(t, e, http.MethodPost, "/v1/recognize", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRecognizeMultipart(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	e := newTestEcho(provider)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "page.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(pngBytes(t)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.WriteField("max_steps", "5"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/recognize", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if provider.eng.gotMaxSteps != 5 {
		t.Errorf("max steps from form value: got %d", provider.eng.gotMaxSteps)
	}
}

func TestRecognizeValidation(t *testing.T) {
	t.Parallel()

	e := newTestEcho(newFakeProvider())

	garbage := base64.StdEncoding.EncodeToString([]byte("not an image"))
	cases := []struct {
		name string
		body string
	}{
		{"missing image", `{"model":"m"}`},
		{"bad base64", `{"image":"!!!not-base64!!!"}`},
		{"undecodable image", fmt.Sprintf(`{"image":%q}`, garbage)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/v1/recognize", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), "invalid_request_error") {
				t.Fatalf("expected invalid_request_error body, got: %s", rec.Body.String())
			}
		})
	}
}

func TestRecognizeModelNotFound(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: fmt.Errorf("%w: %q", ErrModelNotFound, "nope")}
	e := newTestEcho(provider)

	b64 := base64.StdEncoding.EncodeToString(pngBytes(t))
	rec := doJSON(t, e, http.MethodPost, "/v1/recognize", fmt.Sprintf(`{"image":%q}`, b64))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "not_found_error") {
		t.Fatalf("expected not_found_error body, got: %s", rec.Body.String())
	}
}

func TestRecognizeEngineError(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.eng.err = errors.New("model step failed")
	e := newTestEcho(provider)

	b64 := base64.StdEncoding.EncodeToString(pngBytes(t))
	rec := doJSON(t, e, http.MethodPost, "/v1/recognize", fmt.Sprintf(`{"image":%q}`, b64))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "model step failed") {
		t.Fatalf("expected engine error in body, got: %s", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e := newTestEcho(newFakeProvider())
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestModelsEndpoint(t *testing.T) {
	t.Parallel()

	provider := NewCachedEngineProvider(EngineProviderConfig{
		DefaultModelPath: "/models/manga-ocr.scf",
	})
	eng := &fakeEngine{info: ocr.Info{
		Path:      "/models/manga-ocr.scf",
		Container: true,
		VocabLen:  6144,
	}}
	provider.load = func(path string) (ocr.Engine, error) { return eng, nil }
	if err := provider.Preload(""); err != nil {
		t.Fatalf("preload: %v", err)
	}

	e := newTestEcho(provider)
	rec := doJSON(t, e, http.MethodGet, "/v1/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var list ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}
	md := list.Data[0]
	if md.ID != "manga-ocr" || !md.Loaded || !md.Container || md.VocabSize != 6144 {
		t.Fatalf("unexpected model data: %+v", md)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(RateLimit(0, 1))
	NewServer(newFakeProvider()).Register(e)

	first := doJSON(t, e, http.MethodGet, "/healthz", "")
	if first.Code != http.StatusOK {
		t.Fatalf("first request: got %d", first.Code)
	}
	second := doJSON(t, e, http.MethodGet, "/healthz", "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", second.Code)
	}
	if !strings.Contains(second.Body.String(), "rate_limit_error") {
		t.Fatalf("expected rate_limit_error body, got: %s", second.Body.String())
	}
}
