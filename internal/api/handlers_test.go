package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/emovision/internal/analysis"
	"procodus.dev/emovision/internal/api"
)

// multipartUpload builds a POST /analyses/upload request body.
func multipartUpload(device string, image []byte) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if device != "" {
		Expect(writer.WriteField("device", device)).To(Succeed())
	}
	if image != nil {
		part, err := writer.CreateFormFile("image", "photo.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(image)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())

	return &buf, writer.FormDataContentType()
}

var _ = Describe("Handlers", func() {
	var (
		service *fakeService
		handler http.Handler
	)

	BeforeEach(func() {
		service = &fakeService{}

		server, err := api.NewServer(&api.ServerConfig{
			Logger:   quietLogger(),
			HTTPPort: 8080,
			Service:  service,
		})
		Expect(err).NotTo(HaveOccurred())
		handler = server.Handler()
	})

	do := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	Describe("GET /health", func() {
		It("should respond OK", func() {
			rec := do(httptest.NewRequest(http.MethodGet, "/health", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("OK"))
		})
	})

	Describe("GET /metrics", func() {
		It("should expose the Prometheus registry", func() {
			rec := do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("go_goroutines"))
		})
	})

	Describe("POST /analyses/upload", func() {
		It("should ingest a valid upload and return the stored view", func() {
			var (
				gotDevice   string
				gotFilename string
				gotImage    []byte
			)
			service.createFn = func(_ context.Context, deviceName, filename string, image []byte) (*analysis.Analysis, error) {
				gotDevice = deviceName
				gotFilename = filename
				gotImage = image
				return &analysis.Analysis{ID: 7}, nil
			}
			service.getFn = func(_ context.Context, id uint) (*analysis.View, error) {
				Expect(id).To(Equal(uint(7)))
				return &analysis.View{ID: 7, Device: "cam-1", Status: true, DominantEmotion: "anger"}, nil
			}

			payload := []byte{0xFF, 0xD8, 0x42, 0xFF, 0xD9}
			body, contentType := multipartUpload("cam-1", payload)
			req := httptest.NewRequest(http.MethodPost, "/analyses/upload", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(gotDevice).To(Equal("cam-1"))
			Expect(gotFilename).To(Equal("photo.jpg"))
			Expect(gotImage).To(Equal(payload))

			var resp struct {
				Message string        `json:"message"`
				Data    analysis.View `json:"data"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Message).To(Equal("analysis created successfully"))
			Expect(resp.Data.ID).To(Equal(uint(7)))
			Expect(resp.Data.DominantEmotion).To(Equal("anger"))
		})

		It("should reject a request without a device field", func() {
			body, contentType := multipartUpload("", []byte("img"))
			req := httptest.NewRequest(http.MethodPost, "/analyses/upload", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("device"))
		})

		It("should reject a request without an image field", func() {
			body, contentType := multipartUpload("cam-1", nil)
			req := httptest.NewRequest(http.MethodPost, "/analyses/upload", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("image"))
		})

		It("should map validation errors to 400", func() {
			service.createFn = func(_ context.Context, _, _ string, _ []byte) (*analysis.Analysis, error) {
				return nil, fmt.Errorf("%w: device name is required", analysis.ErrValidation)
			}

			body, contentType := multipartUpload("   ", []byte("img"))
			req := httptest.NewRequest(http.MethodPost, "/analyses/upload", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should map classifier unavailability to 503", func() {
			service.createFn = func(_ context.Context, _, _ string, _ []byte) (*analysis.Analysis, error) {
				return nil, fmt.Errorf("%w: connection refused", analysis.ErrServiceUnavailable)
			}

			body, contentType := multipartUpload("cam-1", []byte("img"))
			req := httptest.NewRequest(http.MethodPost, "/analyses/upload", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Body.String()).To(ContainSubstring("classification service unavailable"))
		})

		It("should map unexpected failures to 500", func() {
			service.createFn = func(_ context.Context, _, _ string, _ []byte) (*analysis.Analysis, error) {
				return nil, fmt.Errorf("disk full")
			}

			body, contentType := multipartUpload("cam-1", []byte("img"))
			req := httptest.NewRequest(http.MethodPost, "/analyses/upload", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("GET /analyses", func() {
		It("should list all stored analyses", func() {
			service.listFn = func(_ context.Context) ([]analysis.View, error) {
				return []analysis.View{
					{ID: 1, Device: "cam-1"},
					{ID: 2, Device: "cam-2"},
				}, nil
			}

			rec := do(httptest.NewRequest(http.MethodGet, "/analyses", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var views []analysis.View
			Expect(json.Unmarshal(rec.Body.Bytes(), &views)).To(Succeed())
			Expect(views).To(HaveLen(2))
		})
	})

	Describe("GET /analyses/{id}", func() {
		It("should serve one analysis", func() {
			service.getFn = func(_ context.Context, id uint) (*analysis.View, error) {
				Expect(id).To(Equal(uint(42)))
				return &analysis.View{ID: 42, Device: "cam-1"}, nil
			}

			rec := do(httptest.NewRequest(http.MethodGet, "/analyses/42", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var view analysis.View
			Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed())
			Expect(view.ID).To(Equal(uint(42)))
		})

		It("should respond 404 for an unknown id", func() {
			service.getFn = func(_ context.Context, _ uint) (*analysis.View, error) {
				return nil, nil
			}

			rec := do(httptest.NewRequest(http.MethodGet, "/analyses/42", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should respond 400 for a non-numeric id", func() {
			rec := do(httptest.NewRequest(http.MethodGet, "/analyses/latest", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /analyses/{id}/image", func() {
		It("should serve the raw image bytes", func() {
			payload := []byte{0xFF, 0xD8, 0x42, 0xFF, 0xD9}
			service.getImageFn = func(_ context.Context, _ uint) ([]byte, error) {
				return payload, nil
			}

			rec := do(httptest.NewRequest(http.MethodGet, "/analyses/42/image", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("image/jpeg"))
			Expect(rec.Body.Bytes()).To(Equal(payload))
		})

		It("should respond 404 when the image is missing", func() {
			service.getImageFn = func(_ context.Context, id uint) ([]byte, error) {
				return nil, fmt.Errorf("%w: analysis %d", analysis.ErrNotFound, id)
			}

			rec := do(httptest.NewRequest(http.MethodGet, "/analyses/42/image", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("PUT /analyses/{id}", func() {
		It("should update the status flag from the query parameter", func() {
			service.updateStatusFn = func(_ context.Context, id uint, status bool) (*analysis.View, error) {
				Expect(id).To(Equal(uint(42)))
				Expect(status).To(BeFalse())
				return &analysis.View{ID: 42, Status: false}, nil
			}

			rec := do(httptest.NewRequest(http.MethodPut, "/analyses/42?status=false", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("should respond 400 when the status parameter is not boolean", func() {
			rec := do(httptest.NewRequest(http.MethodPut, "/analyses/42?status=maybe", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should respond 404 for an unknown id", func() {
			service.updateStatusFn = func(_ context.Context, _ uint, _ bool) (*analysis.View, error) {
				return nil, nil
			}

			rec := do(httptest.NewRequest(http.MethodPut, "/analyses/42?status=true", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("DELETE /analyses/{id}", func() {
		It("should respond 204 after deleting", func() {
			service.deleteFn = func(_ context.Context, id uint) (bool, error) {
				Expect(id).To(Equal(uint(42)))
				return true, nil
			}

			rec := do(httptest.NewRequest(http.MethodDelete, "/analyses/42", nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
		})

		It("should respond 404 for an unknown id", func() {
			service.deleteFn = func(_ context.Context, _ uint) (bool, error) {
				return false, nil
			}

			rec := do(httptest.NewRequest(http.MethodDelete, "/analyses/42", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("CORS", func() {
		It("should answer a preflight request with 204 and permissive headers", func() {
			rec := do(httptest.NewRequest(http.MethodOptions, "/analyses/42", nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
			Expect(rec.Header().Get("Access-Control-Allow-Headers")).To(Equal("Content-Type"))
		})

		It("should answer preflight for the upload route", func() {
			rec := do(httptest.NewRequest(http.MethodOptions, "/analyses/upload", nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should set permissive headers on instrumented routes", func() {
			service.listFn = func(_ context.Context) ([]analysis.View, error) {
				return nil, nil
			}

			rec := do(httptest.NewRequest(http.MethodGet, "/analyses", nil))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})
