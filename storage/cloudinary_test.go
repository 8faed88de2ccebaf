package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestPublicIDFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://res.cloudinary.com/demo/image/upload/v1712345678/battletrails/abc123.jpg", "battletrails/abc123", false},
		{"https://res.cloudinary.com/demo/image/upload/c_limit,w_800/v1712/trails/castle.png", "trails/castle", false},
		{"https://res.cloudinary.com/demo/image/upload/battletrails/nested/x.webp", "battletrails/nested/x", false},
		{"https://res.cloudinary.com/demo/image/upload/q_auto/photo.jpg", "photo", false},
		{"https://res.cloudinary.com/demo/image/upload/v1712/noext", "noext", false},
		{"https://example.com/images/photo.jpg", "", true},
		{"https://res.cloudinary.com/demo/image/upload/v1712/", "", true},
		{"not a url", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			got, err := PublicIDFromURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PublicIDFromURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PublicIDFromURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnconfigured(t *testing.T) {
	t.Parallel()

	c, err := NewCloudinary("", "battletrails")
	if err != nil {
		t.Fatalf("NewCloudinary: %v", err)
	}
	if _, err := c.Upload(context.Background(), strings.NewReader("x"), "u1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Upload() error = %v, want ErrNotConfigured", err)
	}
	if err := c.Delete(context.Background(), "https://res.cloudinary.com/demo/image/upload/v1/a.jpg"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Delete() error = %v, want ErrNotConfigured", err)
	}
}
