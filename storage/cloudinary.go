// Package storage keeps user images in Cloudinary.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

var ErrNotConfigured = errors.New("image storage is not configured")

// Image is an uploaded asset.
type Image struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

type Cloudinary struct {
	cld    *cloudinary.Cloudinary
	folder string
}

// NewCloudinary builds a client from a cloudinary:// URL. An empty URL
// returns a client whose calls fail with ErrNotConfigured.
func NewCloudinary(cloudinaryURL, folder string) (*Cloudinary, error) {
	if cloudinaryURL == "" {
		return &Cloudinary{folder: folder}, nil
	}
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("cloudinary config: %w", err)
	}
	return &Cloudinary{cld: cld, folder: folder}, nil
}

// Upload stores file under the configured folder, named after owner.
func (c *Cloudinary) Upload(ctx context.Context, file io.Reader, owner string) (*Image, error) {
	if c.cld == nil {
		return nil, ErrNotConfigured
	}

	params := uploader.UploadParams{
		Folder:         c.folder,
		PublicID:       fmt.Sprintf("%s_%d", owner, time.Now().UnixNano()),
		Transformation: "c_limit,w_1600,h_1600,q_auto",
	}

	res, err := c.cld.Upload.Upload(ctx, file, params)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if res.Error.Message != "" {
		return nil, fmt.Errorf("upload: %s", res.Error.Message)
	}
	return &Image{URL: res.SecureURL, PublicID: res.PublicID}, nil
}

// Delete removes the asset behind a delivery URL. Assets that are already
// gone count as deleted.
func (c *Cloudinary) Delete(ctx context.Context, imageURL string) error {
	if c.cld == nil {
		return ErrNotConfigured
	}
	publicID, err := PublicIDFromURL(imageURL)
	if err != nil {
		return err
	}

	res, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("destroy %s: %w", publicID, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("destroy %s: %s", publicID, res.Error.Message)
	}
	switch res.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("destroy %s: unexpected result %q", publicID, res.Result)
	}
}

var (
	versionSegment   = regexp.MustCompile(`^v\d+$`)
	transformSegment = regexp.MustCompile(`^[a-z]{1,3}_[^/]*$`)
)

// PublicIDFromURL extracts the public id from a Cloudinary delivery URL such as
// https://res.cloudinary.com/demo/image/upload/c_limit,w_800/v1712/trails/abc.jpg
// which yields "trails/abc".
func PublicIDFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid image url %q", raw)
	}

	_, rest, ok := strings.Cut(u.Path, "/upload/")
	if !ok || rest == "" {
		return "", fmt.Errorf("not a cloudinary delivery url: %q", raw)
	}

	segments := strings.Split(rest, "/")
	start := 0
	for i, seg := range segments {
		if versionSegment.MatchString(seg) {
			start = i + 1
			break
		}
	}
	if start == 0 {
		for start < len(segments)-1 && transformSegment.MatchString(segments[start]) {
			start++
		}
	}
	if start >= len(segments) {
		return "", fmt.Errorf("no public id in %q", raw)
	}

	id := strings.Join(segments[start:], "/")
	id = strings.TrimSuffix(id, path.Ext(id))
	if id == "" {
		return "", fmt.Errorf("no public id in %q", raw)
	}
	return id, nil
}
