package images

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func testRecord() ImageRecord {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return ImageRecord{
		Name:        "abc.png",
		Origin:      ResourceOriginInternal,
		Category:    ImageCategoryGeneral,
		Width:       512,
		Height:      768,
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Minute),
		SessionID:   ptr("session-1"),
		NodeID:      ptr("node-7"),
		Starred:     true,
		HasWorkflow: true,
	}
}

func TestRecordToDTO(t *testing.T) {
	record := testRecord()

	tests := []struct {
		name    string
		boardID *string
	}{
		{"mit Board", ptr("board-1")},
		{"ohne Board", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dto := RecordToDTO(record, "u1", "u2", tt.boardID)

			if diff := cmp.Diff(record, dto.ImageRecord); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
			if dto.ImageURL != "u1" || dto.ThumbnailURL != "u2" {
				t.Errorf("urls = %q, %q", dto.ImageURL, dto.ThumbnailURL)
			}
			if diff := cmp.Diff(tt.boardID, dto.BoardID); diff != "" {
				t.Errorf("board_id mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDTOJSON(t *testing.T) {
	dto := RecordToDTO(testRecord(), "u1", "u2", nil)

	bts, err := json.Marshal(dto)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(bts, &m))

	// Record-Felder liegen flach neben den URLs
	assert.Equal(t, "abc.png", m["image_name"])
	assert.Equal(t, "internal", m["image_origin"])
	assert.Equal(t, "general", m["image_category"])
	assert.Equal(t, "u1", m["image_url"])
	assert.Equal(t, "u2", m["thumbnail_url"])
	assert.Equal(t, "session-1", m["session_id"])
	assert.NotContains(t, m, "board_id")
	assert.NotContains(t, m, "deleted_at")

	withBoard := RecordToDTO(testRecord(), "u1", "u2", ptr("b"))
	bts, err = json.Marshal(withBoard)
	require.NoError(t, err)
	assert.Contains(t, string(bts), `"board_id":"b"`)
}

func TestLocalURLService(t *testing.T) {
	svc := LocalURLService{Base: "api/v1/"}

	urls := URLs(svc, "abc.png")
	want := ImageURLsDTO{
		Name:         "abc.png",
		ImageURL:     "api/v1/images/i/abc.png/full",
		ThumbnailURL: "api/v1/images/i/abc.png/thumbnail",
	}
	if diff := cmp.Diff(want, urls); diff != "" {
		t.Errorf("urls mismatch (-want +got):\n%s", diff)
	}

	dto := NewDTO(svc, testRecord(), nil)
	if dto.ThumbnailURL != want.ThumbnailURL {
		t.Errorf("ThumbnailURL = %q", dto.ThumbnailURL)
	}
}

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ImageRecord)
		ok     bool
	}{
		{"gueltig", func(*ImageRecord) {}, true},
		{"ohne Name", func(r *ImageRecord) { r.Name = "" }, false},
		{"negative Breite", func(r *ImageRecord) { r.Width = -1 }, false},
		{"unbekannte Herkunft", func(r *ImageRecord) { r.Origin = "cloud" }, false},
		{"unbekannte Kategorie", func(r *ImageRecord) { r.Category = "depth" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRecord()
			tt.modify(&r)
			err := ValidateRecord(r)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("got %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestProbe(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 5))
	img.Set(1, 1, color.White)

	var b bytes.Buffer
	require.NoError(t, png.Encode(&b, img))

	w, h, format, err := Probe(&b)
	require.NoError(t, err)
	assert.Equal(t, 3, w)
	assert.Equal(t, 5, h)
	assert.Equal(t, "png", format)

	if _, _, _, err := Probe(strings.NewReader("kein Bild")); err == nil {
		t.Error("expected error for non-image data")
	}
}

func TestTypeScript(t *testing.T) {
	ts, err := TypeScript()
	require.NoError(t, err)

	for _, want := range []string{"ImageDTO", "ImageURLsDTO", "thumbnail_url", "image_name"} {
		if !strings.Contains(ts, want) {
			t.Errorf("output lacks %q:\n%s", want, ts)
		}
	}
}
