package server

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"mime/multipart"
	"net/http"

	_ "golang.org/x/image/webp" // register decoder

	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/internal/vision"
)

// Multipart field names accepted for uploaded images.
const (
	fieldImages    = "images[]"
	fieldImagesAlt = "images"
)

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// readImages parses the multipart upload and validates every image.
func (s *Server) readImages(w http.ResponseWriter, r *http.Request) ([]vision.Image, error) {
	if r.ContentLength > s.cfg.MaxUploadBytes {
		return nil, withStatus(http.StatusRequestEntityTooLarge, model.ErrInvalidImage, "upload exceeds size limit", nil)
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, withStatus(http.StatusRequestEntityTooLarge, model.ErrInvalidImage, "upload exceeds size limit", err)
		}
		return nil, model.NewError(model.ErrValidation, "expected a multipart/form-data body", err)
	}

	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	files := r.MultipartForm.File[fieldImages]
	if len(files) == 0 {
		files = r.MultipartForm.File[fieldImagesAlt]
	}
	if len(files) == 0 {
		return nil, model.NewError(model.ErrValidation, "at least one image is required", nil)
	}
	if len(files) > s.cfg.MaxImages {
		return nil, model.NewError(model.ErrValidation, "too many images", nil)
	}

	images := make([]vision.Image, 0, len(files))
	for _, fh := range files {
		img, err := readImage(fh)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func readImage(fh *multipart.FileHeader) (vision.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return vision.Image{}, model.NewError(model.ErrValidation, "unreadable upload", err)
	}
	defer f.Close() //nolint:errcheck

	data, err := io.ReadAll(f)
	if err != nil {
		return vision.Image{}, model.NewError(model.ErrValidation, "unreadable upload", err)
	}
	return validateImage(data)
}

// validateImage sniffs the content type and checks that the image header
// decodes.
func validateImage(data []byte) (vision.Image, error) {
	if len(data) == 0 {
		return vision.Image{}, model.NewError(model.ErrInvalidImage, "empty image", nil)
	}
	mime := http.DetectContentType(data)
	if !allowedMIME[mime] {
		return vision.Image{}, withStatus(http.StatusUnsupportedMediaType, model.ErrInvalidImage, "unsupported image type "+mime, nil)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return vision.Image{}, model.NewError(model.ErrInvalidImage, "image could not be decoded", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return vision.Image{}, model.NewError(model.ErrInvalidImage, "image has no pixels", nil)
	}
	return vision.Image{Data: data, MIMEType: mime}, nil
}
