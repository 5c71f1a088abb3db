// Package api serves text recognition over HTTP.
package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/sumi/internal/imageprep"
	"github.com/samcharles93/sumi/internal/ocr"
)

// maxImageBytes caps the decoded size of an uploaded image.
const maxImageBytes = 32 << 20

type Server struct {
	provider EngineProvider
}

func NewServer(provider EngineProvider) *Server {
	return &Server{provider: provider}
}

// Register mounts the recognition routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/models", s.handleModels)
	e.POST("/v1/recognize", s.handleRecognize)
}

// RateLimit returns middleware admitting at most rps requests per
// second with the given burst.
func RateLimit(rps float64, burst int) echo.MiddlewareFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !limiter.Allow() {
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many requests")
			}
			return next(c)
		}
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(c *echo.Context) error {
	data := []ModelData{}
	index := map[string]int{}

	if lister, ok := s.provider.(interface{ ListModels() ([]string, error) }); ok {
		ids, err := lister.ListModels()
		if err != nil {
			return writeServerError(c, err.Error())
		}
		for _, id := range ids {
			index[id] = len(data)
			data = append(data, ModelData{ID: id, Object: "model"})
		}
	}

	if loaded, ok := s.provider.(interface{ LoadedInfo() []ocr.Info }); ok {
		for _, info := range loaded.LoadedInfo() {
			md := modelData(info)
			if i, ok := index[md.ID]; ok {
				data[i] = md
			} else {
				data = append(data, md)
			}
		}
	}

	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: data})
}

func modelData(info ocr.Info) ModelData {
	image := info.Model.Image
	decode := info.Model.Decode
	return ModelData{
		ID:        modelID(info.Path),
		Object:    "model",
		Name:      info.Model.Name,
		Container: info.Container,
		VocabSize: info.VocabLen,
		Image:     &image,
		Decode:    &decode,
		Loaded:    true,
	}
}

func (s *Server) handleRecognize(c *echo.Context) error {
	req, imgData, err := readRecognizeRequest(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	img, err := imageprep.Decode(imgData)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	var (
		res  *ocr.Result
		info ocr.Info
	)
	err = s.provider.WithEngine(c.Request().Context(), req.Model, func(eng ocr.Engine) error {
		info = eng.Info()
		r, err := eng.Recognize(c.Request().Context(), &ocr.Request{
			Image:    img,
			MaxSteps: req.MaxSteps,
		}, nil)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrModelNotFound) {
			return writeNotFound(c, err.Error())
		}
		return writeServerError(c, err.Error())
	}

	return c.JSON(http.StatusOK, RecognizeResponse{
		ID:         "rec_" + uuid.NewString(),
		Object:     "recognition",
		Model:      info.Model.Name,
		Text:       res.Text,
		Tokens:     res.TokenIDs,
		Steps:      res.Steps,
		Truncated:  res.Truncated,
		DurationMS: float64(res.Stats.Duration) / float64(time.Millisecond),
	})
}

// readRecognizeRequest accepts either a JSON body carrying a base64
// image or a multipart form with an "image" file field.
func readRecognizeRequest(c *echo.Context) (RecognizeRequest, []byte, error) {
	r := c.Request()

	if strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		var req RecognizeRequest
		file, _, err := r.FormFile("image")
		if err != nil {
			return req, nil, errors.New("image file field is required")
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
		if err != nil {
			return req, nil, err
		}
		if len(data) > maxImageBytes {
			return req, nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
		}
		req.Model = r.FormValue("model")
		if v := r.FormValue("max_steps"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return req, nil, fmt.Errorf("max_steps: %v", err)
			}
			req.MaxSteps = n
		}
		return req, data, nil
	}

	req, err := decodeJSON[RecognizeRequest](r.Body)
	if err != nil {
		return req, nil, err
	}
	if strings.TrimSpace(req.Image) == "" {
		return req, nil, errors.New("image is required")
	}
	data, err := decodeBase64Image(req.Image)
	if err != nil {
		return req, nil, err
	}
	return req, data, nil
}

// decodeBase64Image accepts both bare base64 and data URLs.
func decodeBase64Image(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("image: invalid base64: %v", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}
