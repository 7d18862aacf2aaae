package parser

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	imageIDPattern    = regexp.MustCompile(`/images/I/([A-Za-z0-9+%_-]+)\.`)
	sizeSuffixPattern = regexp.MustCompile(`\._[^/]*?_\.`)
)

// galleryRegions hold the main product image. Review and related product
// sections are never searched.
var galleryRegions = []string{
	"#imageBlock",
	"#imgTagWrapperDiv",
	"#main-image-container",
	".imgTagWrapper",
}

func extractImages(doc *goquery.Document) []string {
	images := newImageSet()

	for _, region := range galleryRegions {
		img := doc.Find(region).First().Find("img[data-a-dynamic-image]").First()
		if img.Length() == 0 {
			continue
		}
		for _, u := range dynamicImageURLs(img.AttrOr("data-a-dynamic-image", "")) {
			images.add(u)
		}
		break
	}

	doc.Find("#altImages img").Each(func(_ int, img *goquery.Selection) {
		if isSkippedThumbnail(img) {
			return
		}
		images.add(img.AttrOr("src", ""))
	})

	return images.urls
}

// dynamicImageURLs decodes the {"url": [width, height]} size map, largest first.
func dynamicImageURLs(raw string) []string {
	var sizes map[string][]int
	if err := json.Unmarshal([]byte(raw), &sizes); err != nil {
		return nil
	}

	area := func(u string) int {
		if dims := sizes[u]; len(dims) == 2 {
			return dims[0] * dims[1]
		}
		return 0
	}

	urls := make([]string, 0, len(sizes))
	for u := range sizes {
		urls = append(urls, u)
	}
	sort.Slice(urls, func(i, j int) bool {
		if a, b := area(urls[i]), area(urls[j]); a != b {
			return a > b
		}
		return urls[i] < urls[j]
	})
	return urls
}

func isSkippedThumbnail(img *goquery.Selection) bool {
	class := strings.ToLower(img.Closest("li").AttrOr("class", ""))
	return strings.Contains(class, "swatch") ||
		strings.Contains(class, "variant") ||
		strings.Contains(class, "video")
}

type imageSet struct {
	seen map[string]bool
	urls []string
}

func newImageSet() *imageSet {
	return &imageSet{seen: make(map[string]bool), urls: make([]string, 0)}
}

// add keeps the first URL seen per embedded image ID, rewritten to its
// full resolution form.
func (s *imageSet) add(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(strings.ToLower(raw), "icon") {
		return
	}

	m := imageIDPattern.FindStringSubmatch(raw)
	if m == nil || s.seen[m[1]] {
		return
	}
	s.seen[m[1]] = true
	s.urls = append(s.urls, fullResolution(raw))
}

func fullResolution(u string) string {
	if i := strings.Index(u, "?"); i >= 0 {
		u = u[:i]
	}
	return sizeSuffixPattern.ReplaceAllString(u, ".")
}
