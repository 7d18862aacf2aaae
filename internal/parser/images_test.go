package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullResolution(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://m.media-amazon.com/images/I/71abc._AC_SX679_.jpg", "https://m.media-amazon.com/images/I/71abc.jpg"},
		{"https://m.media-amazon.com/images/I/71abc._AC_US40_.jpg?v=2", "https://m.media-amazon.com/images/I/71abc.jpg"},
		{"https://m.media-amazon.com/images/I/71abc.jpg", "https://m.media-amazon.com/images/I/71abc.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, fullResolution(tt.input))
		})
	}
}

func TestDynamicImageURLs(t *testing.T) {
	raw := `{"https://x/images/I/a._SX300_.jpg":[300,300],"https://x/images/I/a._SX679_.jpg":[679,679],"https://x/images/I/b._SX679_.jpg":[679,679]}`

	assert.Equal(t, []string{
		"https://x/images/I/a._SX679_.jpg",
		"https://x/images/I/b._SX679_.jpg",
		"https://x/images/I/a._SX300_.jpg",
	}, dynamicImageURLs(raw))

	assert.Nil(t, dynamicImageURLs("not json"))
}

func TestImageSet_DedupByID(t *testing.T) {
	set := newImageSet()
	set.add("https://x/images/I/a._SX300_.jpg")
	set.add("https://x/images/I/a._SX679_.jpg")
	set.add("https://x/images/I/b.jpg")
	set.add("https://x/images/G/01/icon-play.png")
	set.add("https://x/no-image-id.jpg")
	set.add("")

	assert.Equal(t, []string{"https://x/images/I/a.jpg", "https://x/images/I/b.jpg"}, set.urls)
}
