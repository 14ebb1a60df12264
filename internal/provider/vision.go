package provider

import (
	"encoding/base64"
	"path/filepath"
	"strings"
)

var imageMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// MIMEType maps a filename to one of the accepted image types,
// defaulting to image/jpeg.
func MIMEType(filename string) string {
	if m, ok := imageMIME[strings.ToLower(filepath.Ext(filename))]; ok {
		return m
	}
	return "image/jpeg"
}

// DataURL encodes an image as a base64 data: URL.
func DataURL(img Image) string {
	return "data:" + MIMEType(img.Filename) + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// attachImages turns the last user message into a multimodal message:
// the text part first, then one image_url part per image.
func attachImages(msgs []Message, images []Image) []Message {
	idx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			idx = i
			break
		}
	}
	if idx < 0 {
		msgs = append(msgs, Message{Role: "user", Content: ""})
		idx = len(msgs) - 1
	}

	text, _ := msgs[idx].Content.(string)
	parts := make([]ContentPart, 0, len(images)+1)
	parts = append(parts, ContentPart{Type: "text", Text: text})
	for _, img := range images {
		parts = append(parts, ContentPart{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: DataURL(img)},
		})
	}

	out := make([]Message, len(msgs))
	copy(out, msgs)
	out[idx] = Message{Role: "user", Content: parts}
	return out
}
