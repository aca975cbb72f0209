package inference

import (
	"errors"
	"net/http"
	"strings"
)

// ErrNoImage is returned when an image carries no data.
var ErrNoImage = errors.New("inference: image is empty")

// ErrUnsupportedImage is returned for content types the endpoint does not accept.
var ErrUnsupportedImage = errors.New("inference: unsupported image type")

// DefaultFilename is used when an image has no name of its own.
const DefaultFilename = "capture.jpg"

var supportedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
	"image/heic": {},
	"image/heif": {},
}

// Image is a single user-selected photo.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Empty reports whether the image carries no bytes.
func (img Image) Empty() bool {
	return len(img.Data) == 0
}

// MediaType returns the declared content type, sniffing the data when none
// was declared. Parameters such as charset are stripped.
func (img Image) MediaType() string {
	ct := img.ContentType
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(img.Data)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Name returns the filename to use when transmitting the image.
func (img Image) Name() string {
	if img.Filename == "" {
		return DefaultFilename
	}
	return img.Filename
}

// Validate checks that the image is present and of a supported type.
func (img Image) Validate() error {
	if img.Empty() {
		return ErrNoImage
	}
	if !SupportedContentType(img.MediaType()) {
		return ErrUnsupportedImage
	}
	return nil
}

// SupportedContentType reports whether mediaType is an accepted image type.
func SupportedContentType(mediaType string) bool {
	_, ok := supportedContentTypes[strings.ToLower(mediaType)]
	return ok
}
