// types.go - Bild-Record- und DTO-Typen
// Enthaelt: ResourceOrigin, ImageCategory, ImageRecord, ImageURLsDTO, ImageDTO
package images

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRecord = errors.New("invalid image record")

// ResourceOrigin gibt an, ob ein Bild von InvokeAI erzeugt oder hochgeladen wurde
type ResourceOrigin string

const (
	// ResourceOriginInternal: created by InvokeAI
	ResourceOriginInternal ResourceOrigin = "internal"
	// ResourceOriginExternal: uploaded or otherwise provided by the user
	ResourceOriginExternal ResourceOrigin = "external"
)

// ImageCategory is the intended use of an image.
type ImageCategory string

const (
	ImageCategoryGeneral ImageCategory = "general"
	ImageCategoryMask    ImageCategory = "mask"
	ImageCategoryControl ImageCategory = "control"
	ImageCategoryUser    ImageCategory = "user"
	ImageCategoryOther   ImageCategory = "other"
)

// ImageRecord is the stored metadata of an image.
type ImageRecord struct {
	// Name is the unique name of the image.
	Name string `json:"image_name"`

	// Origin is the type of the image's origin.
	Origin ResourceOrigin `json:"image_origin"`

	// Category is the category of the image.
	Category ImageCategory `json:"image_category"`

	Width  int `json:"width"`
	Height int `json:"height"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// IsIntermediate marks images that are not shown in the gallery.
	IsIntermediate bool `json:"is_intermediate"`

	// SessionID is the session that generated this image, if any.
	SessionID *string `json:"session_id,omitempty"`

	// NodeID is the node that generated this image, if any.
	NodeID *string `json:"node_id,omitempty"`

	Starred     bool `json:"starred"`
	HasWorkflow bool `json:"has_workflow"`
}

// ImageURLsDTO contains the URLs for an image and its thumbnail.
type ImageURLsDTO struct {
	Name         string `json:"image_name"`
	ImageURL     string `json:"image_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// ImageDTO is an image record enriched for the frontend. The record fields
// are flattened into the top-level JSON object.
type ImageDTO struct {
	ImageRecord

	ImageURL     string `json:"image_url"`
	ThumbnailURL string `json:"thumbnail_url"`

	// BoardID is the board the image belongs to, if one exists.
	BoardID *string `json:"board_id,omitempty"`
}

// ValidateRecord prueft Pflichtfelder und Enum-Werte eines Records
func ValidateRecord(r ImageRecord) error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: empty image_name", ErrInvalidRecord)
	case r.Width < 0 || r.Height < 0:
		return fmt.Errorf("%w: negative size %dx%d", ErrInvalidRecord, r.Width, r.Height)
	}

	switch r.Origin {
	case ResourceOriginInternal, ResourceOriginExternal:
	default:
		return fmt.Errorf("%w: image_origin %q", ErrInvalidRecord, r.Origin)
	}

	switch r.Category {
	case ImageCategoryGeneral, ImageCategoryMask, ImageCategoryControl, ImageCategoryUser, ImageCategoryOther:
	default:
		return fmt.Errorf("%w: image_category %q", ErrInvalidRecord, r.Category)
	}

	return nil
}
