package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

type Cloudinary struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinary(cloudinaryURL string) (*Cloudinary, error) {
	if cloudinaryURL == "" {
		return nil, errors.New("CLOUDINARY_URL required")
	}
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, err
	}
	return &Cloudinary{cld: cld}, nil
}

func (c *Cloudinary) Put(ctx context.Context, p string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	overwrite := true
	resp, err := c.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:  publicID(p),
		Overwrite: &overwrite,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", p, err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("upload %s: %s", p, resp.Error.Message)
	}
	if resp.SecureURL != "" {
		return resp.SecureURL, nil
	}
	if resp.URL != "" {
		return resp.URL, nil
	}
	return "", errors.New("cloudinary upload returned empty url")
}

// publicID drops the file extension; Cloudinary derives the format from the content.
func publicID(p string) string {
	return strings.TrimSuffix(p, path.Ext(p))
}
